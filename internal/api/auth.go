package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/auth"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AuthHandler handles login, session introspection, OAuth sign-in, and
// admin user management.
type AuthHandler struct {
	users       *users.Service
	tokens      *auth.TokenIssuer
	oauthCfgs   map[string]*oauth2.Config
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. oauthCfgs may be empty to
// disable OAuth sign-in.
func NewAuthHandler(svc *users.Service, tokens *auth.TokenIssuer, oauthCfgs map[string]*oauth2.Config, frontendURL string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: svc, tokens: tokens, oauthCfgs: oauthCfgs, frontendURL: frontendURL, logger: logger}
}

// Register registers the public auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	authGrp := rg.Group("/auth")
	{
		authGrp.POST("/login", h.Login)
		authGrp.GET("/oauth/:provider", h.OAuthRedirect)
		authGrp.GET("/oauth/:provider/callback", h.OAuthCallback)
	}
}

// RegisterProtected registers the authenticated auth and user-management
// routes. Must be mounted behind RequireAuth.
func (h *AuthHandler) RegisterProtected(rg *gin.RouterGroup) {
	authGrp := rg.Group("/auth")
	{
		authGrp.GET("/me", h.Me)
		authGrp.POST("/password", h.ChangePassword)
	}

	admin := rg.Group("/users", RequireRole(users.RoleAdmin))
	{
		admin.GET("", h.ListUsers)
		admin.POST("", h.CreateUser)
		admin.POST("/:id/role", h.SetRole)
		admin.POST("/:id/active", h.SetActive)
		admin.DELETE("/:id", h.DeleteUser)
	}
}

// Login handles POST /auth/login — email/password authentication.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	tok, err := h.tokens.Issue(u)
	if err != nil {
		h.logger.Error("issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tok, "user": u})
}

// Me handles GET /auth/me — returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID in token"})
		return
	}

	u, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
			return
		}
		h.logger.Error("get current user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	c.JSON(http.StatusOK, u)
}

// ChangePassword handles POST /auth/password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := ClaimsFromCtx(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID in token"})
		return
	}

	var req struct {
		Current string `json:"current_password"`
		Next    string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), id, req.Current, req.Next); err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "current password is incorrect"})
		case errors.Is(err, users.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("change password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to change password"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// OAuthRedirect handles GET /auth/oauth/:provider — redirects to the OAuth provider.
func (h *AuthHandler) OAuthRedirect(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	state, err := h.tokens.IssueOAuthState(provider)
	if err != nil {
		h.logger.Error("generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate OAuth state"})
		return
	}

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
	c.Redirect(http.StatusFound, url)
}

// OAuthCallback handles GET /auth/oauth/:provider/callback.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider := c.Param("provider")
	cfg, ok := h.oauthCfgs[provider]
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("OAuth provider %q not configured", provider)})
		return
	}

	// Validate state to prevent CSRF
	gotProvider, err := h.tokens.VerifyOAuthState(c.Query("state"))
	if err != nil || gotProvider != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		errMsg := c.Query("error_description")
		if errMsg == "" {
			errMsg = c.Query("error")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth authorization failed: " + errMsg})
		return
	}

	oauthToken, err := cfg.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "OAuth code exchange failed"})
		return
	}

	providerID, email, displayName, err := auth.FetchUserInfo(c.Request.Context(), provider, oauthToken.AccessToken)
	if err != nil {
		h.logger.Error("fetch oauth user info", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user info from provider"})
		return
	}

	u, _, err := h.users.GetOrCreateFromOAuth(c.Request.Context(), provider, providerID, email, displayName)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusForbidden, gin.H{"error": "account is disabled"})
			return
		}
		h.logger.Error("get or create oauth user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process OAuth login"})
		return
	}

	tok, err := h.tokens.Issue(u)
	if err != nil {
		h.logger.Error("issue user token after oauth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	// Redirect the browser to the frontend callback page with the token in the
	// URL fragment (#). Fragments are never sent to the server, so the token
	// stays client-side only.
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/callback#token="+tok)
}

// ListUsers handles GET /users.
func (h *AuthHandler) ListUsers(c *gin.Context) {
	items, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if items == nil {
		items = []*users.User{}
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// CreateUser handles POST /users — admin account provisioning.
func (h *AuthHandler) CreateUser(c *gin.Context) {
	var req struct {
		Email       string     `json:"email"`
		Password    string     `json:"password"`
		DisplayName string     `json:"display_name"`
		Role        users.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Create(c.Request.Context(), actorFromCtx(c), req.Email, req.Password, req.DisplayName, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, users.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			h.logger.Error("create user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		}
		return
	}

	c.JSON(http.StatusCreated, u)
}

// SetRole handles POST /users/:id/role.
func (h *AuthHandler) SetRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	var req struct {
		Role users.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.SetRole(c.Request.Context(), actorFromCtx(c), id, req.Role); err != nil {
		h.writeUserErr(c, err, "failed to set role")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "role updated"})
}

// SetActive handles POST /users/:id/active — enables or disables an account.
func (h *AuthHandler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}

	if err := h.users.SetActive(c.Request.Context(), actorFromCtx(c), id, *req.Active); err != nil {
		h.writeUserErr(c, err, "failed to update account")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account updated"})
}

// DeleteUser handles DELETE /users/:id.
func (h *AuthHandler) DeleteUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	if err := h.users.Delete(c.Request.Context(), actorFromCtx(c), id); err != nil {
		h.writeUserErr(c, err, "failed to delete user")
		return
	}

	c.JSON(http.StatusNoContent, nil)
}

func (h *AuthHandler) writeUserErr(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, users.ErrLastAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
