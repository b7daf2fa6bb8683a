package dto

import (
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type HeartbeatConfig struct {
	Every            string `json:"every"`
	Target           string `json:"target"`
	IncludeReasoning bool   `json:"include_reasoning,omitempty"`
}

type IdentityProfile struct {
	Role               string `json:"role,omitempty"`
	CommunicationStyle string `json:"communication_style,omitempty"`
	Emoji              string `json:"emoji,omitempty"`
}

type AgentResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Status               string           `json:"status"`
	BoardID              string           `json:"board_id,omitempty"`
	LastSeenAt           *time.Time       `json:"last_seen_at"`
	SessionKey           string           `json:"openclaw_session_id,omitempty"`
	HeartbeatConfig      *HeartbeatConfig `json:"heartbeat_config,omitempty"`
	IdentityProfile      *IdentityProfile `json:"identity_profile,omitempty"`
	ProvisionRequestedAt *time.Time       `json:"provision_requested_at,omitempty"`
	ProvisionAction      string           `json:"provision_action,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
}

type CreateAgentRequest struct {
	Name            string           `json:"name" binding:"required"`
	Status          string           `json:"status"`
	BoardID         string           `json:"board_id" binding:"omitempty,uuid"`
	HeartbeatConfig *HeartbeatConfig `json:"heartbeat_config"`
	IdentityProfile *IdentityProfile `json:"identity_profile"`
}

// UpdateAgentRequest carries only the fields being changed.
type UpdateAgentRequest struct {
	Name            *string          `json:"name"`
	Status          *string          `json:"status"`
	BoardID         *string          `json:"board_id" binding:"omitempty,uuid"`
	HeartbeatConfig *HeartbeatConfig `json:"heartbeat_config"`
	IdentityProfile *IdentityProfile `json:"identity_profile"`
}

type HeartbeatRequest struct {
	Status string `json:"status"`
}

type HeartbeatCreateRequest struct {
	Name   string `json:"name" binding:"required"`
	Status string `json:"status"`
}

type AgentTokenResponse struct {
	Agent AgentResponse `json:"agent"`
	Token string        `json:"token"` // Only returned once
}

func AgentFromModel(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:                   a.ID,
		Name:                 a.Name,
		Status:               a.Status,
		BoardID:              a.BoardID,
		LastSeenAt:           a.LastSeenAt,
		SessionKey:           a.SessionKey,
		HeartbeatConfig:      heartbeatFromModel(a.HeartbeatConfig),
		IdentityProfile:      identityFromModel(a.IdentityProfile),
		ProvisionRequestedAt: a.ProvisionRequestedAt,
		ProvisionAction:      a.ProvisionAction,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func (h *HeartbeatConfig) ToModel() *store.HeartbeatConfig {
	if h == nil {
		return nil
	}
	return &store.HeartbeatConfig{Every: h.Every, Target: h.Target, IncludeReasoning: h.IncludeReasoning}
}

func (p *IdentityProfile) ToModel() *store.IdentityProfile {
	if p == nil {
		return nil
	}
	return &store.IdentityProfile{Role: p.Role, CommunicationStyle: p.CommunicationStyle, Emoji: p.Emoji}
}

func heartbeatFromModel(h *store.HeartbeatConfig) *HeartbeatConfig {
	if h == nil {
		return nil
	}
	return &HeartbeatConfig{Every: h.Every, Target: h.Target, IncludeReasoning: h.IncludeReasoning}
}

func identityFromModel(p *store.IdentityProfile) *IdentityProfile {
	if p == nil {
		return nil
	}
	return &IdentityProfile{Role: p.Role, CommunicationStyle: p.CommunicationStyle, Emoji: p.Emoji}
}
