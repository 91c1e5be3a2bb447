package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/audit"
	"github.com/sentra-ti/sentra/internal/feed"
	"github.com/sentra-ti/sentra/internal/threat"
	"go.uber.org/zap"
)

// summaryTTL bounds how stale the dashboard summary may be. The summary
// runs several aggregate queries, so it is cached rather than recomputed
// on every page load.
const summaryTTL = 30 * time.Second

// assetStats is the slice of the asset repository used by the dashboard.
type assetStats interface {
	CountByCriticality(ctx context.Context) (map[int]int, error)
}

// threatStats is the slice of the threat repository used by the dashboard.
type threatStats interface {
	CountBySeverity(ctx context.Context) (*threat.SeverityCounts, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	CountKEV(ctx context.Context) (int, error)
}

// assocStats is the slice of the association layer used by the dashboard.
type assocStats interface {
	Count(ctx context.Context) (int, error)
}

// feedStats is the slice of the feed layer used by the dashboard.
type feedStats interface {
	List(ctx context.Context) ([]*feed.Feed, error)
}

// Summary is the aggregate snapshot behind the dashboard landing page.
type Summary struct {
	AssetsByCriticality map[int]int            `json:"assets_by_criticality"`
	AssetsTotal         int                    `json:"assets_total"`
	ThreatsBySeverity   *threat.SeverityCounts `json:"threats_by_severity"`
	ThreatsByStatus     map[string]int         `json:"threats_by_status"`
	KEVCount            int                    `json:"kev_count"`
	AssociationsTotal   int                    `json:"associations_total"`
	Feeds               []*feed.Feed           `json:"feeds"`
	RecentAudit         []*audit.Entry         `json:"recent_audit"`
	GeneratedAt         time.Time              `json:"generated_at"`
}

type summaryCache struct {
	mu        sync.RWMutex
	summary   *Summary
	expiresAt time.Time
}

func (c *summaryCache) get() (*Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.summary == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.summary, true
}

func (c *summaryCache) set(s *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = s
	c.expiresAt = time.Now().Add(summaryTTL)
}

// DashboardHandler serves the aggregate views behind the dashboard UI.
type DashboardHandler struct {
	assets  assetStats
	threats threatStats
	stats   assocStats
	feeds   feedStats
	ledger  audit.Ledger
	assocs  *assoc.Service
	cache   summaryCache
	logger  *zap.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(assets assetStats, threats threatStats, stats assocStats, feeds feedStats, ledger audit.Ledger, assocs *assoc.Service, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{assets: assets, threats: threats, stats: stats, feeds: feeds, ledger: ledger, assocs: assocs, logger: logger}
}

// Register registers the dashboard routes on the given router group.
func (h *DashboardHandler) Register(rg *gin.RouterGroup) {
	dash := rg.Group("/dashboard")
	{
		dash.GET("/summary", h.GetSummary)
		dash.GET("/top-risks", h.TopRisks)
	}
}

// GetSummary handles GET /dashboard/summary.
func (h *DashboardHandler) GetSummary(c *gin.Context) {
	if s, ok := h.cache.get(); ok {
		c.JSON(http.StatusOK, s)
		return
	}

	s, err := h.buildSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("build dashboard summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}

	h.cache.set(s)
	c.JSON(http.StatusOK, s)
}

func (h *DashboardHandler) buildSummary(ctx context.Context) (*Summary, error) {
	byCrit, err := h.assets.CountByCriticality(ctx)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range byCrit {
		total += n
	}

	bySev, err := h.threats.CountBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := h.threats.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	kev, err := h.threats.CountKEV(ctx)
	if err != nil {
		return nil, err
	}
	assocCount, err := h.stats.Count(ctx)
	if err != nil {
		return nil, err
	}
	feeds, err := h.feeds.List(ctx)
	if err != nil {
		return nil, err
	}
	if feeds == nil {
		feeds = []*feed.Feed{}
	}
	recent, _, err := h.ledger.List(ctx, audit.Filter{Limit: 5})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*audit.Entry{}
	}

	return &Summary{
		AssetsByCriticality: byCrit,
		AssetsTotal:         total,
		ThreatsBySeverity:   bySev,
		ThreatsByStatus:     byStatus,
		KEVCount:            kev,
		AssociationsTotal:   assocCount,
		Feeds:               feeds,
		RecentAudit:         recent,
		GeneratedAt:         time.Now().UTC(),
	}, nil
}

// TopRisks handles GET /dashboard/top-risks — the highest-scoring current
// assessments. ?n= controls the result size (default 10, max 50).
func (h *DashboardHandler) TopRisks(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "10"))
	if n <= 0 || n > 50 {
		n = 10
	}

	items, err := h.assocs.TopByScore(c.Request.Context(), n)
	if err != nil {
		h.logger.Error("top risks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list top risks"})
		return
	}
	if items == nil {
		items = []*assoc.ThreatAssessment{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}
