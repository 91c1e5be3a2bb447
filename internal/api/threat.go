package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/threat"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

// ThreatHandler handles HTTP requests for threat records and their
// risk assessments.
type ThreatHandler struct {
	svc    *threat.Service
	assocs *assoc.Service
	logger *zap.Logger
}

// NewThreatHandler creates a new ThreatHandler.
func NewThreatHandler(svc *threat.Service, assocs *assoc.Service, logger *zap.Logger) *ThreatHandler {
	return &ThreatHandler{svc: svc, assocs: assocs, logger: logger}
}

// Register registers all threat routes on the given router group.
func (h *ThreatHandler) Register(rg *gin.RouterGroup) {
	threats := rg.Group("/threats")
	{
		threats.GET("", h.List)
		threats.GET("/:id", h.Get)
		threats.GET("/:id/associations", h.ListAssociations)
		threats.GET("/:id/assessment", h.GetAssessment)
		threats.POST("", RequireRole(users.RoleAnalyst), h.Create)
		threats.PATCH("/:id", RequireRole(users.RoleAnalyst), h.Update)
		threats.DELETE("/:id", RequireRole(users.RoleAnalyst), h.Delete)
		threats.POST("/:id/status", RequireRole(users.RoleAnalyst), h.SetStatus)
		threats.POST("/:id/kev", RequireRole(users.RoleAnalyst), h.MarkKEV)
		threats.POST("/:id/recompute", RequireRole(users.RoleAnalyst), h.Recompute)
	}
}

// Create handles POST /threats — records a threat manually.
func (h *ThreatHandler) Create(c *gin.Context) {
	var req threat.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.Create(c.Request.Context(), actorFromCtx(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, threat.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, threat.ErrDuplicateCVE):
			c.JSON(http.StatusConflict, gin.H{"error": "cve already recorded"})
		default:
			h.logger.Error("create threat", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create threat"})
		}
		return
	}

	c.JSON(http.StatusCreated, t)
}

// List handles GET /threats — paginated, filterable threat browsing.
func (h *ThreatHandler) List(c *gin.Context) {
	limit, offset := pagination(c)

	f := threat.ListFilter{
		Severity: threat.Severity(c.Query("severity")),
		Status:   threat.Status(c.Query("status")),
		KEVOnly:  c.Query("kev") == "true",
		Source:   c.Query("source"),
		Query:    strings.TrimSpace(c.Query("q")),
		Sort:     c.Query("sort"),
		Limit:    limit,
		Offset:   offset,
	}

	items, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, threat.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("list threats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threats"})
		return
	}
	if items == nil {
		items = []*threat.Threat{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

// Get handles GET /threats/:id. The id may also be a CVE identifier.
func (h *ThreatHandler) Get(c *gin.Context) {
	raw := c.Param("id")
	ctx := c.Request.Context()

	var t *threat.Threat
	var err error
	if id, parseErr := uuid.Parse(raw); parseErr == nil {
		t, err = h.svc.Get(ctx, id)
	} else if strings.HasPrefix(strings.ToUpper(raw), "CVE-") {
		t, err = h.svc.GetByCVE(ctx, strings.ToUpper(raw))
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("get threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get threat"})
		return
	}

	c.JSON(http.StatusOK, t)
}

// ListAssociations handles GET /threats/:id/associations — assets matched
// against this threat, strongest confidence first.
func (h *ThreatHandler) ListAssociations(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	items, err := h.assocs.ListByThreat(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list threat associations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list associations"})
		return
	}
	if items == nil {
		items = []*assoc.Association{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetAssessment handles GET /threats/:id/assessment — the current risk
// score, level, and contributing factors.
func (h *ThreatHandler) GetAssessment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	a, err := h.assocs.GetAssessment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, assoc.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
			return
		}
		h.logger.Error("get assessment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get assessment"})
		return
	}

	c.JSON(http.StatusOK, a)
}

// Update handles PATCH /threats/:id.
func (h *ThreatHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	var req threat.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.Update(c.Request.Context(), actorFromCtx(c), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, threat.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
		case errors.Is(err, threat.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("update threat", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update threat"})
		}
		return
	}

	c.JSON(http.StatusOK, t)
}

// SetStatus handles POST /threats/:id/status — moves a threat through the
// triage lifecycle.
func (h *ThreatHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	var req struct {
		Status threat.Status `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.SetStatus(c.Request.Context(), actorFromCtx(c), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, threat.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
		case errors.Is(err, threat.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("set threat status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set status"})
		}
		return
	}

	c.JSON(http.StatusOK, t)
}

// MarkKEV handles POST /threats/:id/kev — flags a threat as present in the
// known-exploited-vulnerabilities catalog.
func (h *ThreatHandler) MarkKEV(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	var req struct {
		DateAdded  string `json:"date_added"`
		Ransomware bool   `json:"ransomware"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dateAdded := time.Now().UTC()
	if req.DateAdded != "" {
		dateAdded, err = time.Parse("2006-01-02", req.DateAdded)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date_added must be YYYY-MM-DD"})
			return
		}
	}

	flagged, err := h.svc.MarkKEV(c.Request.Context(), actorFromCtx(c), id, dateAdded, req.Ransomware)
	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("mark kev", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark kev"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"flagged": flagged})
}

// Recompute handles POST /threats/:id/recompute — forces a fresh
// association and risk computation for one threat.
func (h *ThreatHandler) Recompute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	ctx := c.Request.Context()
	t, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("get threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get threat"})
		return
	}

	assessment, err := h.assocs.RecomputeThreat(ctx, t)
	if err != nil {
		h.logger.Error("recompute threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recompute failed"})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// Delete handles DELETE /threats/:id.
func (h *ThreatHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat ID"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("delete threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete threat"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}
