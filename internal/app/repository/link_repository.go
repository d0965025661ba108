package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/LinkSwift/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateKey signals that another link already holds the key.
	ErrDuplicateKey = errors.New("link key already exists")
	// ErrHandshakeConsumed signals that the one-time token was already used.
	ErrHandshakeConsumed = errors.New("handshake token already used")
	// ErrLinkExpired signals that the link matched but has passed its expiry.
	ErrLinkExpired = errors.New("link expired")
)

// ClickUpdate describes one counted click.
type ClickUpdate struct {
	Day         string
	IP          string
	RecentLimit int
}

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	Exists(ctx context.Context, key string) (bool, error)
	GetByKey(ctx context.Context, key string) (*model.Link, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	Delete(ctx context.Context, key string) error
	RecordClick(ctx context.Context, key string, click ClickUpdate) (*model.Link, error)
	ConsumeHandshake(ctx context.Context, key, token string, now time.Time) (*model.Link, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) ([]model.Link, error)
	ActiveKeys(ctx context.Context, now time.Time) ([]string, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *linkRepository) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("short_key = ?", key).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *linkRepository) GetByKey(ctx context.Context, key string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("short_key = ?", key).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) Delete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Where("short_key = ?", key).Delete(&model.Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// RecordClick applies a click under a row lock so concurrent clicks on the same
// link serialize instead of overwriting each other's histogram.
func (r *linkRepository) RecordClick(ctx context.Context, key string, click ClickUpdate) (*model.Link, error) {
	var link model.Link
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("short_key = ?", key).
			First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLinkNotFound
			}
			return err
		}

		link.ApplyClick(click.Day, click.IP, click.RecentLimit)

		return tx.Model(&link).
			Select("total_clicks", "clicks_by_day", "recent_ips").
			Updates(&link).Error
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ConsumeHandshake flips handshake_consumed in a single conditional UPDATE; the
// database arbitrates concurrent consumers so at most one sees RowsAffected == 1.
func (r *linkRepository) ConsumeHandshake(ctx context.Context, key, token string, now time.Time) (*model.Link, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("short_key = ? AND handshake_token = ? AND access = ?", key, token, model.AccessHandshake).
		Where("handshake_consumed = ? AND expires_at > ?", false, now).
		Update("handshake_consumed", true)
	if result.Error != nil {
		return nil, result.Error
	}

	var link model.Link
	err := r.db.WithContext(ctx).
		Where("short_key = ? AND handshake_token = ? AND access = ?", key, token, model.AccessHandshake).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}

	if result.RowsAffected == 1 {
		return &link, nil
	}
	if link.HandshakeConsumed {
		return nil, ErrHandshakeConsumed
	}
	if link.Expired(now) {
		return nil, ErrLinkExpired
	}
	// Lost a race with a concurrent consumer between the two statements.
	return nil, ErrHandshakeConsumed
}

func (r *linkRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 500
	}

	var expired []model.Link
	if err := r.db.WithContext(ctx).
		Select("short_key", "handshake_token").
		Where("expires_at <= ?", now).
		Order("expires_at").
		Limit(limit).
		Find(&expired).Error; err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	keys := make([]string, len(expired))
	for i, l := range expired {
		keys[i] = l.Key
	}
	if err := r.db.WithContext(ctx).
		Where("short_key IN ? AND expires_at <= ?", keys, now).
		Delete(&model.Link{}).Error; err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *linkRepository) ActiveKeys(ctx context.Context, now time.Time) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("expires_at > ?", now).
		Pluck("short_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
