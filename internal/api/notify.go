package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/notify"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

// NotifyHandler handles HTTP requests for notification rules and their
// delivery history.
type NotifyHandler struct {
	svc    *notify.Service
	logger *zap.Logger
}

// NewNotifyHandler creates a new NotifyHandler.
func NewNotifyHandler(svc *notify.Service, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{svc: svc, logger: logger}
}

// Register registers all notification routes on the given router group.
func (h *NotifyHandler) Register(rg *gin.RouterGroup) {
	rules := rg.Group("/notifications")
	{
		rules.GET("", h.List)
		rules.GET("/:id", h.Get)
		rules.GET("/:id/deliveries", h.ListDeliveries)
		rules.POST("", RequireRole(users.RoleAnalyst), h.Create)
		rules.PATCH("/:id", RequireRole(users.RoleAnalyst), h.Update)
		rules.DELETE("/:id", RequireRole(users.RoleAnalyst), h.Delete)
	}
}

// Create handles POST /notifications. The generated webhook secret is
// returned once in this response and never again.
func (h *NotifyHandler) Create(c *gin.Context) {
	var req notify.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.svc.Create(c.Request.Context(), actorFromCtx(c), &req)
	if err != nil {
		if errors.Is(err, notify.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create notification rule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create notification rule"})
		return
	}

	resp := gin.H{"rule": r}
	if r.Secret != "" {
		resp["secret"] = r.Secret
	}
	c.JSON(http.StatusCreated, resp)
}

// List handles GET /notifications.
func (h *NotifyHandler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list notification rules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notification rules"})
		return
	}
	if items == nil {
		items = []*notify.Rule{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Get handles GET /notifications/:id.
func (h *NotifyHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification rule ID"})
		return
	}

	r, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
			return
		}
		h.logger.Error("get notification rule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get notification rule"})
		return
	}

	c.JSON(http.StatusOK, r)
}

// ListDeliveries handles GET /notifications/:id/deliveries — recent delivery
// attempts, newest first.
func (h *NotifyHandler) ListDeliveries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification rule ID"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.svc.ListDeliveries(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
			return
		}
		h.logger.Error("list deliveries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}
	if items == nil {
		items = []*notify.Delivery{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Update handles PATCH /notifications/:id.
func (h *NotifyHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification rule ID"})
		return
	}

	var req notify.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.svc.Update(c.Request.Context(), actorFromCtx(c), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
		case errors.Is(err, notify.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("update notification rule", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification rule"})
		}
		return
	}

	c.JSON(http.StatusOK, r)
}

// Delete handles DELETE /notifications/:id.
func (h *NotifyHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification rule ID"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
			return
		}
		h.logger.Error("delete notification rule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete notification rule"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}
