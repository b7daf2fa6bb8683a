package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/auth"
)

const (
	apiKeyHeader = "X-API-Key"

	ActorKey = "actor"
)

type AdminAuthConfig struct {
	APIKey    string
	JWTSecret string
}

// AdminAuth admits requests carrying either the admin API key or a bearer
// JWT with the admin role. The authenticated actor is stored under ActorKey.
func AdminAuth(cfg AdminAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" && cfg.JWTSecret == "" {
			slog.Warn("Admin auth not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Admin API is not configured",
			})
			return
		}

		if providedKey := c.GetHeader(apiKeyHeader); providedKey != "" {
			if !auth.CheckAPIKey(providedKey, cfg.APIKey) {
				slog.Warn("Invalid API key attempt",
					"path", c.Request.URL.Path,
					"client_ip", c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid API key",
				})
				return
			}
			c.Set(ActorKey, "api-key")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if cfg.JWTSecret == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims, err := auth.ValidateToken(cfg.JWTSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set(ActorKey, claims.Username)
		c.Next()
	}
}
