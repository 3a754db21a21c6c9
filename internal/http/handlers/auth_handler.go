package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// AuthHandler предоставляет HTTP слой для регистрации и логина.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler создаёт хэндлер.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func sessionMeta(c *gin.Context) (userAgent, ip *string) {
	if ua := c.GetHeader("User-Agent"); ua != "" {
		userAgent = &ua
	}
	if addr := c.ClientIP(); addr != "" {
		ip = &addr
	}
	return userAgent, ip
}

// Register обрабатывает POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	userAgent, ip := sessionMeta(c)
	user, tokens, err := h.auth.Register(c.Request.Context(), req.Email, req.Username, req.Password, userAgent, ip)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":   user,
		"tokens": tokens,
	})
}

// Login обрабатывает POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	userAgent, ip := sessionMeta(c)
	user, tokens, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, userAgent, ip)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"tokens": tokens,
	})
}

// Refresh обрабатывает POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	userAgent, ip := sessionMeta(c)
	tokens, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, userAgent, ip)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Logout обрабатывает POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondSuccess(c, "сессия завершена", nil)
}

// Me обрабатывает GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	user, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
