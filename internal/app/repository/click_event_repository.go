package repository

import (
	"context"
	"errors"

	"github.com/sifan077/LinkSwift/internal/app/model"
	"gorm.io/gorm"
)

// ClickEventRepository defines the data access contract for the click audit log.
type ClickEventRepository interface {
	Create(ctx context.Context, event *model.ClickEvent) error
	CountByLink(ctx context.Context, key string) (int64, error)
}

type clickEventRepository struct {
	db *gorm.DB
}

// NewClickEventRepository returns a GORM-backed ClickEventRepository.
func NewClickEventRepository(db *gorm.DB) ClickEventRepository {
	return &clickEventRepository{db: db}
}

// Create stores event; redelivered events with a known ID are ignored.
func (r *clickEventRepository) Create(ctx context.Context, event *model.ClickEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (r *clickEventRepository) CountByLink(ctx context.Context, key string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ClickEvent{}).
		Where("link_key = ?", key).
		Count(&count).Error
	return count, err
}
