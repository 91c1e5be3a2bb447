package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

// AssetHandler handles HTTP requests for the asset inventory.
type AssetHandler struct {
	svc    *asset.Service
	assocs *assoc.Service
	logger *zap.Logger
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(svc *asset.Service, assocs *assoc.Service, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{svc: svc, assocs: assocs, logger: logger}
}

// Register registers all asset routes on the given router group.
func (h *AssetHandler) Register(rg *gin.RouterGroup) {
	assets := rg.Group("/assets")
	{
		assets.GET("", h.List)
		assets.GET("/:id", h.Get)
		assets.GET("/:id/associations", h.ListAssociations)
		assets.POST("", RequireRole(users.RoleAnalyst), h.Create)
		assets.PATCH("/:id", RequireRole(users.RoleAnalyst), h.Update)
		assets.DELETE("/:id", RequireRole(users.RoleAnalyst), h.Delete)
		assets.POST("/import", RequireRole(users.RoleAnalyst), h.Import)
	}
}

// Create handles POST /assets.
func (h *AssetHandler) Create(c *gin.Context) {
	var req asset.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.svc.Create(c.Request.Context(), actorFromCtx(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, asset.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, asset.ErrDuplicateHostname):
			c.JSON(http.StatusConflict, gin.H{"error": "hostname already registered"})
		default:
			h.logger.Error("create asset", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create asset"})
		}
		return
	}

	c.JSON(http.StatusCreated, a)
}

// List handles GET /assets — returns a paginated, filterable inventory page.
func (h *AssetHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	crit, _ := strconv.Atoi(c.Query("criticality"))

	f := asset.ListFilter{
		Environment: c.Query("environment"),
		Criticality: crit,
		OSFamily:    c.Query("os_family"),
		Query:       strings.TrimSpace(c.Query("q")),
		Limit:       limit,
		Offset:      offset,
	}

	items, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list assets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assets"})
		return
	}
	if items == nil {
		items = []*asset.Asset{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

// Get handles GET /assets/:id.
func (h *AssetHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset ID"})
		return
	}

	a, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		h.logger.Error("get asset", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get asset"})
		return
	}

	c.JSON(http.StatusOK, a)
}

// ListAssociations handles GET /assets/:id/associations — threats matched
// against this asset.
func (h *AssetHandler) ListAssociations(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset ID"})
		return
	}

	items, err := h.assocs.ListByAsset(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list asset associations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list associations"})
		return
	}
	if items == nil {
		items = []*assoc.Association{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Update handles PATCH /assets/:id.
func (h *AssetHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset ID"})
		return
	}

	var req asset.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.svc.Update(c.Request.Context(), actorFromCtx(c), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, asset.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		case errors.Is(err, asset.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("update asset", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update asset"})
		}
		return
	}

	c.JSON(http.StatusOK, a)
}

// Delete handles DELETE /assets/:id.
func (h *AssetHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset ID"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		h.logger.Error("delete asset", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete asset"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}

// Import handles POST /assets/import — bulk CSV ingest. With ?dry_run=true
// the file is validated but nothing is written. ?partial=true commits valid
// rows even when some rows fail validation.
func (h *AssetHandler) Import(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"
	partial := c.Query("partial") == "true"

	body := c.Request.Body
	defer body.Close()

	if dryRun {
		preview, err := asset.ParseCSV(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, preview)
		return
	}

	preview, err := h.svc.ImportCSV(c.Request.Context(), actorFromCtx(c), body, partial)
	if err != nil {
		if errors.Is(err, asset.ErrInvalid) {
			resp := gin.H{"error": err.Error()}
			if preview != nil {
				resp["preview"] = preview
			}
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		h.logger.Error("import assets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
		return
	}

	c.JSON(http.StatusCreated, preview)
}

// pagination parses limit/offset query params with the standard defaults.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
