// Package store persists agents, gateways and the activity feed.
//
// Two implementations share the Store interface: PostgresStore (pgx) for
// production and SQLiteStore (modernc.org/sqlite) for local runs and tests.
// Lookups are exact-match and case-sensitive. A missing row is reported as
// ErrNotFound.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionKeyTaken is returned when an insert or save would bind a
	// session key already held by a different agent.
	ErrSessionKeyTaken = errors.New("session key already bound to another agent")

	// ErrDuplicate is returned for any other unique violation, such as a
	// reused primary key.
	ErrDuplicate = errors.New("duplicate row")
)

// sessionKeyIndex is the unique index over agents.openclaw_session_id.
const sessionKeyIndex = "ux_agents_openclaw_session_id"

// HeartbeatConfig tells an external agent how often to check in.
type HeartbeatConfig struct {
	Every            string `json:"every"`
	Target           string `json:"target"`
	IncludeReasoning bool   `json:"include_reasoning,omitempty"`
}

// IdentityProfile describes how an agent presents itself.
type IdentityProfile struct {
	Role               string `json:"role,omitempty"`
	CommunicationStyle string `json:"communication_style,omitempty"`
	Emoji              string `json:"emoji,omitempty"`
}

// Agent is the identity and liveness record of one external worker.
// Empty SessionKey, TokenHash, ProvisionAction and BoardID are stored as NULL.
type Agent struct {
	ID                   string
	Name                 string
	Status               string
	BoardID              string
	LastSeenAt           *time.Time
	SessionKey           string
	TokenHash            string
	HeartbeatConfig      *HeartbeatConfig
	IdentityProfile      *IdentityProfile
	ProvisionRequestedAt *time.Time
	ProvisionAction      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Gateway is the configuration of one OpenClaw gateway endpoint.
type Gateway struct {
	ID             string
	Name           string
	URL            string
	Token          string
	MainSessionKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActivityEvent is an append-only audit entry.
type ActivityEvent struct {
	ID        string
	EventType string
	Message   string
	AgentID   string
	TaskID    string
	CreatedAt time.Time
}

// AgentStore is the agent registry.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	FindAgentBySessionKey(ctx context.Context, key string) (*Agent, error)
	FindAgentByName(ctx context.Context, name string) (*Agent, error)
	// FindAgentByHeartbeatName backs the idempotent heartbeat-create path.
	FindAgentByHeartbeatName(ctx context.Context, name string) (*Agent, error)
	FindAgentByTokenHash(ctx context.Context, hash string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	InsertAgent(ctx context.Context, agent *Agent) error
	// SaveAgent upserts on the primary key.
	SaveAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// GatewayStore persists gateway configurations.
type GatewayStore interface {
	GetGateway(ctx context.Context, id string) (*Gateway, error)
	ListGateways(ctx context.Context, limit, offset int) ([]Gateway, error)
	InsertGateway(ctx context.Context, gateway *Gateway) error
	SaveGateway(ctx context.Context, gateway *Gateway) error
	DeleteGateway(ctx context.Context, id string) error
}

// ActivityStore is the append-only activity feed.
type ActivityStore interface {
	AppendEvent(ctx context.Context, event *ActivityEvent) error
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, limit, offset int) ([]ActivityEvent, error)
	ListAgentEvents(ctx context.Context, agentID string, limit int) ([]ActivityEvent, error)
}

// Store bundles every repository. WithTx runs fn against a Store bound to a
// single transaction, committing when fn returns nil.
type Store interface {
	AgentStore
	GatewayStore
	ActivityStore
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
