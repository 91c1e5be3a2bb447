package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/threat"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

// PIRHandler handles HTTP requests for priority intelligence requirements.
type PIRHandler struct {
	svc     *pir.Service
	threats *threat.Service
	logger  *zap.Logger
}

// NewPIRHandler creates a new PIRHandler.
func NewPIRHandler(svc *pir.Service, threats *threat.Service, logger *zap.Logger) *PIRHandler {
	return &PIRHandler{svc: svc, threats: threats, logger: logger}
}

// Register registers all PIR routes on the given router group.
func (h *PIRHandler) Register(rg *gin.RouterGroup) {
	pirs := rg.Group("/pirs")
	{
		pirs.GET("", h.List)
		pirs.GET("/:id", h.Get)
		pirs.POST("", RequireRole(users.RoleAnalyst), h.Create)
		pirs.PATCH("/:id", RequireRole(users.RoleAnalyst), h.Update)
		pirs.DELETE("/:id", RequireRole(users.RoleAnalyst), h.Delete)
		pirs.POST("/evaluate", h.Evaluate)
	}
}

// Create handles POST /pirs.
func (h *PIRHandler) Create(c *gin.Context) {
	var req pir.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.svc.Create(c.Request.Context(), actorFromCtx(c), &req)
	if err != nil {
		if errors.Is(err, pir.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create pir", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pir rule"})
		return
	}

	c.JSON(http.StatusCreated, r)
}

// List handles GET /pirs — PIR sets are small, so no pagination.
func (h *PIRHandler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list pirs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pir rules"})
		return
	}
	if items == nil {
		items = []*pir.Rule{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Get handles GET /pirs/:id.
func (h *PIRHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pir rule ID"})
		return
	}

	r, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pir.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pir rule not found"})
			return
		}
		h.logger.Error("get pir", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get pir rule"})
		return
	}

	c.JSON(http.StatusOK, r)
}

// Update handles PATCH /pirs/:id.
func (h *PIRHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pir rule ID"})
		return
	}

	var req pir.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.svc.Update(c.Request.Context(), actorFromCtx(c), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, pir.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "pir rule not found"})
		case errors.Is(err, pir.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("update pir", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update pir rule"})
		}
		return
	}

	c.JSON(http.StatusOK, r)
}

// Delete handles DELETE /pirs/:id.
func (h *PIRHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pir rule ID"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		if errors.Is(err, pir.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pir rule not found"})
			return
		}
		h.logger.Error("delete pir", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete pir rule"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}

// Evaluate handles POST /pirs/evaluate — runs every active rule against an
// existing threat and returns the matches without persisting anything.
func (h *PIRHandler) Evaluate(c *gin.Context) {
	var req struct {
		ThreatID uuid.UUID `json:"threat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ThreatID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threat_id is required"})
		return
	}

	ctx := c.Request.Context()
	t, err := h.threats.Get(ctx, req.ThreatID)
	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("get threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get threat"})
		return
	}

	eval, err := h.svc.Evaluate(ctx, t)
	if err != nil {
		h.logger.Error("evaluate pirs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}

	c.JSON(http.StatusOK, eval)
}
