package service

import (
	"context"
	"time"

	apprepository "github.com/sifan077/LinkSwift/internal/app/repository"
	"go.uber.org/zap"
)

const sweepBatch = 500

// ExpirySweeper periodically removes expired links and their cache entries.
// Resolution never depends on it: expired links are already treated as missing.
type ExpirySweeper struct {
	logger   *zap.Logger
	links    apprepository.LinkRepository
	cache    apprepository.LinkCache
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
}

// NewExpirySweeper creates a sweeper running every interval.
func NewExpirySweeper(logger *zap.Logger, links apprepository.LinkRepository, cache apprepository.LinkCache, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ExpirySweeper{
		logger:   logger,
		links:    links,
		cache:    cache,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (s *ExpirySweeper) Start() {
	go s.run()
}

// Stop stops the sweep and waits for an in-flight pass to finish.
func (s *ExpirySweeper) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *ExpirySweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("failed to sweep expired links", zap.Error(err))
			}
			cancel()
		case <-s.stopChan:
			s.logger.Info("expiry sweeper stopped")
			return
		}
	}
}

// Sweep deletes expired links in batches and returns how many were removed.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	total := 0

	for {
		removed, err := s.links.DeleteExpired(ctx, now, sweepBatch)
		if err != nil {
			return total, err
		}

		for _, link := range removed {
			if s.cache == nil {
				break
			}
			if err := s.cache.Delete(ctx, link.Key); err != nil {
				s.logger.Warn("failed to drop cache entry for expired link", zap.String("key", link.Key), zap.Error(err))
			}
			if link.HandshakeToken != nil {
				_, _ = s.cache.TakeHandshake(ctx, link.Key, *link.HandshakeToken)
			}
		}

		total += len(removed)
		if len(removed) < sweepBatch {
			break
		}
	}

	if total > 0 {
		s.logger.Info("removed expired links",
			zap.Int("count", total),
			zap.Time("expired_before", now),
		)
	}
	return total, nil
}
