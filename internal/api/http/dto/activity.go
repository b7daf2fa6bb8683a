package dto

import (
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

// PageQuery is bound from ?limit=&offset=.
type PageQuery struct {
	Limit  int `form:"limit,default=50" binding:"min=1,max=200"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}

type ActivityEventResponse struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListActivityResponse struct {
	Items  []ActivityEventResponse `json:"items"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func ActivityFromModel(e *store.ActivityEvent) ActivityEventResponse {
	return ActivityEventResponse{
		ID:        e.ID,
		EventType: e.EventType,
		Message:   e.Message,
		AgentID:   e.AgentID,
		TaskID:    e.TaskID,
		CreatedAt: e.CreatedAt,
	}
}
