package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type ActivityHandler struct {
	events store.ActivityStore
}

func NewActivityHandler(events store.ActivityStore) *ActivityHandler {
	return &ActivityHandler{events: events}
}

// ListActivity returns the activity feed newest first
// GET /activity
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	var page dto.PageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.events.ListEvents(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		slog.Error("Failed to list activity", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity"})
		return
	}

	items := make([]dto.ActivityEventResponse, len(events))
	for i := range events {
		items[i] = dto.ActivityFromModel(&events[i])
	}

	c.JSON(http.StatusOK, dto.ListActivityResponse{Items: items, Limit: page.Limit, Offset: page.Offset})
}
