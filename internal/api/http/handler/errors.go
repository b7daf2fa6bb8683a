package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/gateways"
)

// respondError maps service errors to status codes. Anything unrecognised
// is logged and reported as a generic 500.
func respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, agents.ErrAgentNotFound), errors.Is(err, gateways.ErrGatewayNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, agents.ErrInvalidAgent), errors.Is(err, gateways.ErrInvalidGateway):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, agents.ErrInvalidAgentToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid agent token"})
	default:
		slog.Error("Failed to "+action, append([]any{"error", err}, attrs...)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}
