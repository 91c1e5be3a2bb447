package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/feed"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

// FeedHandler handles HTTP requests for threat feed configuration and
// on-demand synchronisation.
type FeedHandler struct {
	svc    *feed.Service
	logger *zap.Logger
}

// NewFeedHandler creates a new FeedHandler.
func NewFeedHandler(svc *feed.Service, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{svc: svc, logger: logger}
}

// Register registers all feed routes on the given router group. Feed
// management is admin-only; run history is readable by any analyst.
func (h *FeedHandler) Register(rg *gin.RouterGroup) {
	feeds := rg.Group("/feeds")
	{
		feeds.GET("", h.List)
		feeds.GET("/:id", h.Get)
		feeds.GET("/:id/runs", h.ListRuns)
		feeds.POST("", RequireRole(users.RoleAdmin), h.Create)
		feeds.PATCH("/:id", RequireRole(users.RoleAdmin), h.Update)
		feeds.DELETE("/:id", RequireRole(users.RoleAdmin), h.Delete)
		feeds.POST("/:id/sync", RequireRole(users.RoleAnalyst), h.Sync)
	}
}

// Create handles POST /feeds.
func (h *FeedHandler) Create(c *gin.Context) {
	var req feed.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.svc.Create(c.Request.Context(), actorFromCtx(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, feed.ErrDuplicateName):
			c.JSON(http.StatusConflict, gin.H{"error": "feed name already registered"})
		default:
			h.logger.Error("create feed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create feed"})
		}
		return
	}

	c.JSON(http.StatusCreated, f)
}

// List handles GET /feeds.
func (h *FeedHandler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list feeds", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list feeds"})
		return
	}
	if items == nil {
		items = []*feed.Feed{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Get handles GET /feeds/:id.
func (h *FeedHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed ID"})
		return
	}

	f, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		h.logger.Error("get feed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get feed"})
		return
	}

	c.JSON(http.StatusOK, f)
}

// ListRuns handles GET /feeds/:id/runs — recent sync history, newest first.
func (h *FeedHandler) ListRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed ID"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.svc.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		h.logger.Error("list feed runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*feed.Run{}
	}

	c.JSON(http.StatusOK, gin.H{"items": runs, "count": len(runs)})
}

// Update handles PATCH /feeds/:id.
func (h *FeedHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed ID"})
		return
	}

	var req feed.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.svc.Update(c.Request.Context(), actorFromCtx(c), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		case errors.Is(err, feed.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("update feed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update feed"})
		}
		return
	}

	c.JSON(http.StatusOK, f)
}

// Delete handles DELETE /feeds/:id.
func (h *FeedHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed ID"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		h.logger.Error("delete feed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete feed"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}

// Sync handles POST /feeds/:id/sync — triggers an immediate sync run and
// waits for it to finish.
func (h *FeedHandler) Sync(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed ID"})
		return
	}

	run, err := h.svc.SyncByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		h.logger.Error("sync feed", zap.Error(err))
		resp := gin.H{"error": "sync failed"}
		if run != nil {
			resp["run"] = run
		}
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	c.JSON(http.StatusOK, run)
}
