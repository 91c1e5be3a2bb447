package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sentra-ti/sentra/internal/audit"
	"go.uber.org/zap"
)

// AuditHandler handles HTTP requests for the audit ledger.
type AuditHandler struct {
	ledger audit.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(ledger audit.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, logger: logger}
}

// Register registers all audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	logs := rg.Group("/audit")
	{
		logs.GET("", h.List)
		logs.GET("/verify", h.Verify)
	}
}

// List handles GET /audit — browses the ledger newest-first with optional
// actor, action, entity_type, from, and to filters (RFC 3339 timestamps).
func (h *AuditHandler) List(c *gin.Context) {
	limit, offset := pagination(c)

	f := audit.Filter{
		Actor:      c.Query("actor"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		Limit:      limit,
		Offset:     offset,
	}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an RFC 3339 timestamp"})
			return
		}
		f.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an RFC 3339 timestamp"})
			return
		}
		f.To = t
	}

	items, total, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
		return
	}
	if items == nil {
		items = []*audit.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

// Verify handles GET /audit/verify — walks the full hash chain and reports
// whether it is intact, along with the current tip hash.
func (h *AuditHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.ledger.Verify(ctx); err != nil {
		h.logger.Warn("audit chain verification failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"valid": false, "error": err.Error()})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("audit chain root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain tip"})
		return
	}
	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("audit chain length", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain length"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "root": root, "entries": count})
}
