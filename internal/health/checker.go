// Package health monitors the reachability of configured feed sources.
// A source that fails several consecutive probes raises a notification
// event so operators learn about a stale intelligence pipeline before
// the next sync silently returns nothing.
package health

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/feed"
	"github.com/sentra-ti/sentra/internal/risk"
	"go.uber.org/zap"
)

// Config holds probe configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// SourceLister returns the enabled feeds whose endpoints should be probed.
// The feed repository satisfies this directly.
type SourceLister interface {
	ListEnabled(ctx context.Context) ([]*feed.Feed, error)
}

// EventFunc dispatches a reachability event to the notification pipeline.
type EventFunc func(ctx context.Context, eventType string, riskLevel risk.Level, payload map[string]string)

// MetricsFunc is an optional callback for recording probe results.
type MetricsFunc func(success bool)

// Monitor runs periodic feed source reachability probes.
type Monitor struct {
	sources    SourceLister
	httpClient *http.Client
	failCounts map[uuid.UUID]int
	mu         sync.Mutex
	cfg        Config
	onEvent    EventFunc
	onMetrics  MetricsFunc
	logger     *zap.Logger
}

// NewMonitor creates a new Monitor.
func NewMonitor(sources SourceLister, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Monitor{
		sources:    sources,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[uuid.UUID]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetEventFunc configures the notification dispatch callback.
func (m *Monitor) SetEventFunc(fn EventFunc) {
	m.onEvent = fn
}

// SetMetricsFunc configures the metrics recording callback.
func (m *Monitor) SetMetricsFunc(fn MetricsFunc) {
	m.onMetrics = fn
}

// Start runs the probe loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckInterval-time.Second)
			m.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll probes every enabled feed source with bounded concurrency.
func (m *Monitor) CheckAll(ctx context.Context) {
	feeds, err := m.sources.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("health: list feed sources", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, f := range feeds {
		wg.Add(1)
		go func(src *feed.Feed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := m.probe(ctx, src.URL)

			if m.onMetrics != nil {
				m.onMetrics(success)
			}

			m.mu.Lock()
			prevCount := m.failCounts[src.ID]
			if success {
				m.failCounts[src.ID] = 0
			} else {
				m.failCounts[src.ID]++
			}
			count := m.failCounts[src.ID]
			m.mu.Unlock()

			switch {
			case success && prevCount >= m.cfg.FailThreshold:
				m.logger.Info("health: feed source recovered", zap.String("feed", src.Name))
				if m.onEvent != nil {
					m.onEvent(ctx, "feed.source_recovered", risk.LevelLow, map[string]string{
						"feed_id": src.ID.String(),
						"name":    src.Name,
						"url":     src.URL,
					})
				}
			case !success && count == m.cfg.FailThreshold:
				// Alert exactly once per outage, at the threshold.
				m.logger.Warn("health: feed source unreachable",
					zap.String("feed", src.Name),
					zap.Int("fail_count", count),
				)
				if m.onEvent != nil {
					m.onEvent(ctx, "feed.source_unreachable", risk.LevelHigh, map[string]string{
						"feed_id": src.ID.String(),
						"name":    src.Name,
						"url":     src.URL,
					})
				}
			}
		}(f)
	}
	wg.Wait()
}

// probe attempts HEAD then GET, returning true on any 2xx response. KEV and
// NVD endpoints both answer HEAD, but a fallback keeps custom mirrors working.
func (m *Monitor) probe(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = m.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
