package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/sifan077/LinkSwift/internal/app/repository"
	infraPrometheus "github.com/sifan077/LinkSwift/internal/infra/prometheus"
	"go.uber.org/zap"
)

// AnalyticsDeps groups the collaborators of an AnalyticsRecorder.
type AnalyticsDeps struct {
	Links     repository.LinkRepository
	Cache     repository.LinkCache
	Publisher ClickEventPublisher
	Logger    *zap.Logger
	Metrics   *infraPrometheus.Metrics
	Now       func() time.Time
}

// AnalyticsConfig tunes click counting.
type AnalyticsConfig struct {
	// Location fixes the calendar used for per-day buckets.
	Location       *time.Location
	DebounceWindow time.Duration
	RecentIPLimit  int
}

// AnalyticsRecorder counts authorized resolutions. Debouncing by (key, ip) is best
// effort: when the cache is unreachable every click is counted.
type AnalyticsRecorder struct {
	links     repository.LinkRepository
	cache     repository.LinkCache
	publisher ClickEventPublisher
	logger    *zap.Logger
	metrics   *infraPrometheus.Metrics
	now       func() time.Time
	cfg       AnalyticsConfig
}

// NewAnalyticsRecorder builds a recorder, filling zero config values with defaults.
func NewAnalyticsRecorder(deps AnalyticsDeps, cfg AnalyticsConfig) *AnalyticsRecorder {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 5 * time.Second
	}
	if cfg.RecentIPLimit <= 0 {
		cfg.RecentIPLimit = 10
	}
	return &AnalyticsRecorder{
		links:     deps.Links,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		cfg:       cfg,
	}
}

// Record counts one click on key from ip. It reports whether the click was counted
// (false when debounced).
func (r *AnalyticsRecorder) Record(ctx context.Context, key, ip, userAgent string) (bool, error) {
	if ip != "" && r.cache != nil {
		fresh, err := r.cache.MarkClick(ctx, key, ip, r.cfg.DebounceWindow)
		if err != nil {
			r.logger.Warn("debounce marker unavailable, counting click", zap.String("key", key), zap.Error(err))
		} else if !fresh {
			r.metrics.Click("debounced")
			return false, nil
		}
	}

	now := r.now()
	day := now.In(r.cfg.Location).Format("2006-01-02")
	if _, err := r.links.RecordClick(ctx, key, repository.ClickUpdate{
		Day:         day,
		IP:          ip,
		RecentLimit: r.cfg.RecentIPLimit,
	}); err != nil {
		r.metrics.Click("failed")
		return false, fmt.Errorf("record click: %w", err)
	}
	r.metrics.Click("counted")

	if r.publisher != nil {
		event := model.ClickEvent{
			ID:        uuid.NewString(),
			LinkKey:   key,
			IP:        ip,
			UserAgent: userAgent,
			Timestamp: now.UTC(),
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("failed to publish click event", zap.String("key", key), zap.Error(err))
		}
	}
	return true, nil
}
