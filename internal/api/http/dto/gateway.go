package dto

import (
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type GatewayResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	MainSessionKey  string    `json:"main_session_key"`
	TokenConfigured bool      `json:"token_configured"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type GatewayWithAgentResponse struct {
	Gateway   GatewayResponse `json:"gateway"`
	MainAgent *AgentResponse  `json:"main_agent,omitempty"`
}

type ListGatewaysResponse struct {
	Items  []GatewayResponse `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type CreateGatewayRequest struct {
	Name           string `json:"name" binding:"required"`
	URL            string `json:"url"`
	Token          string `json:"token"`
	MainSessionKey string `json:"main_session_key"`
}

type UpdateGatewayRequest struct {
	Name           *string `json:"name"`
	URL            *string `json:"url"`
	Token          *string `json:"token"`
	MainSessionKey *string `json:"main_session_key"`
}

func GatewayFromModel(g *store.Gateway) GatewayResponse {
	return GatewayResponse{
		ID:              g.ID,
		Name:            g.Name,
		URL:             g.URL,
		MainSessionKey:  g.MainSessionKey,
		TokenConfigured: g.Token != "",
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}
