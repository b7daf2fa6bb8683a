package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
	"github.com/TomBuge/openclaw-mission-control/internal/auth"
)

type AuthHandler struct {
	adminAPIKey string
	jwtConfig   auth.Config
}

func NewAuthHandler(adminAPIKey string, jwtConfig auth.Config) *AuthHandler {
	return &AuthHandler{
		adminAPIKey: adminAPIKey,
		jwtConfig:   jwtConfig,
	}
}

// IssueToken exchanges the admin API key for a short-lived admin JWT
// POST /auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.adminAPIKey == "" || h.jwtConfig.Secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issuance is not configured"})
		return
	}

	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !auth.CheckAPIKey(req.APIKey, h.adminAPIKey) {
		slog.Warn("Invalid API key on token request", "username", req.Username, "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	expiry := h.jwtConfig.Expiry
	if expiry <= 0 {
		expiry = auth.DefaultTokenExpiry
	}
	token, err := auth.GenerateToken(h.jwtConfig, uuid.NewString(), req.Username, auth.RoleAdmin)
	if err != nil {
		slog.Error("Failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, dto.TokenResponse{Token: token, ExpiresAt: time.Now().Add(expiry).UTC()})
}
