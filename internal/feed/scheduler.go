package feed

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

// Scheduler periodically syncs all enabled feeds that are due.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler that wakes every interval to check which
// feeds are due. Per-feed intervals gate the actual syncs.
func NewScheduler(service *Service, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{service: service, interval: interval, logger: logger}
}

// Start runs the sync loop until quit is signalled.
func (s *Scheduler) Start(quit <-chan os.Signal) {
	s.logger.Info("feed scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.service.SyncAll(ctx)
			cancel()
		case <-quit:
			s.logger.Info("feed scheduler stopped")
			return
		}
	}
}
