package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
	"github.com/TomBuge/openclaw-mission-control/internal/slug"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

const (
	EventHeartbeat      = "agent.heartbeat"
	EventSessionCreated = "agent.session.created"
	EventTokenRotated   = "agent.token.rotated"
	EventDeleted        = "agent.deleted"

	// SessionKeyPrefix namespaces sessions created for self-registering agents.
	SessionKeyPrefix = "openclaw-agency"

	StatusProvisioning = provisioning.StatusProvisioning
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInvalidAgent      = errors.New("invalid agent")
	ErrInvalidAgentToken = errors.New("invalid agent token")
)

// SessionEnsurer creates gateway sessions.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, sessionKey string, cfg openclaw.Config, label string) error
}

type CreateInput struct {
	Name            string
	Status          string
	BoardID         string
	HeartbeatConfig *store.HeartbeatConfig
	IdentityProfile *store.IdentityProfile
}

// UpdateInput applies only the non-nil fields.
type UpdateInput struct {
	Name            *string
	Status          *string
	BoardID         *string
	HeartbeatConfig *store.HeartbeatConfig
	IdentityProfile *store.IdentityProfile
}

type Service struct {
	store    store.Store
	sessions SessionEnsurer
	gateway  openclaw.Config
	liveness *Liveness
	clock    clock.Clock
}

// NewService wires the agent registry. gateway is the default gateway used
// for self-registering agents; an invalid config disables session creation.
func NewService(st store.Store, sessions SessionEnsurer, gateway openclaw.Config, liveness *Liveness, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if liveness == nil {
		liveness = NewLiveness(clk, DefaultOfflineAfter)
	}
	return &Service{
		store:    st,
		sessions: sessions,
		gateway:  gateway,
		liveness: liveness,
		clock:    clk,
	}
}

// SessionKeyFor is the gateway session key of a self-registered agent.
func SessionKeyFor(name string) string {
	return SessionKeyPrefix + "-" + slug.Derive(name)
}

func (s *Service) Liveness() *Liveness {
	return s.liveness
}

// List returns all agents with their effective status.
func (s *Service) List(ctx context.Context) ([]store.Agent, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	for i := range agents {
		agents[i] = s.liveness.Present(&agents[i])
	}
	return agents, nil
}

// Get returns one agent with its effective status.
func (s *Service) Get(ctx context.Context, id string) (*store.Agent, error) {
	agent, err := s.load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	presented := s.liveness.Present(agent)
	return &presented, nil
}

// GetBySessionKey backs the liveness probe.
func (s *Service) GetBySessionKey(ctx context.Context, key string) (*store.Agent, error) {
	agent, err := s.store.FindAgentBySessionKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	presented := s.liveness.Present(agent)
	return &presented, nil
}

// Create registers an agent and, best-effort, opens its gateway session.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Agent, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if err := validateBoardID(in.BoardID); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = StatusProvisioning
	}

	now := s.clock.Now()
	agent := &store.Agent{
		Name:            in.Name,
		Status:          in.Status,
		BoardID:         in.BoardID,
		HeartbeatConfig: in.HeartbeatConfig,
		IdentityProfile: in.IdentityProfile,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created := s.ensureSession(ctx, agent)
	write := func(tx store.Store) error {
		if err := tx.InsertAgent(ctx, agent); err != nil {
			return err
		}
		if created {
			return appendSessionCreated(ctx, tx, agent, now)
		}
		return nil
	}
	err := s.store.WithTx(ctx, write)
	if created && errors.Is(err, store.ErrSessionKeyTaken) {
		s.dropSession(agent)
		created = false
		err = s.store.WithTx(ctx, write)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	slog.Info("Agent created", "agent_id", agent.ID, "name", agent.Name, "session_key", agent.SessionKey)
	presented := s.liveness.Present(agent)
	return &presented, nil
}

// Update applies an admin edit.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*store.Agent, error) {
	var agent *store.Agent
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		agent, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			if *in.Name == "" {
				return fmt.Errorf("%w: name must not be empty", ErrInvalidAgent)
			}
			agent.Name = *in.Name
		}
		if in.Status != nil {
			agent.Status = *in.Status
		}
		if in.BoardID != nil {
			if err := validateBoardID(*in.BoardID); err != nil {
				return err
			}
			agent.BoardID = *in.BoardID
		}
		if in.HeartbeatConfig != nil {
			hb := *in.HeartbeatConfig
			agent.HeartbeatConfig = &hb
		}
		if in.IdentityProfile != nil {
			profile := *in.IdentityProfile
			agent.IdentityProfile = &profile
		}
		agent.UpdatedAt = s.clock.Now()
		return tx.SaveAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	presented := s.liveness.Present(agent)
	return &presented, nil
}

// Delete hard-deletes the agent. Its activity events are kept. Deleting an
// unknown agent succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		agent, err := tx.GetAgent(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get agent: %w", err)
		}
		if err := tx.DeleteAgent(ctx, id); err != nil {
			return fmt.Errorf("failed to delete agent: %w", err)
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventDeleted,
			Message:   fmt.Sprintf("Agent %s deleted.", agent.Name),
			AgentID:   agent.ID,
			CreatedAt: s.clock.Now(),
		})
	})
}

// Heartbeat records a check-in for a known agent. An empty status means
// "online".
func (s *Service) Heartbeat(ctx context.Context, id string, status string) (*store.Agent, error) {
	var agent *store.Agent
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		agent, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.recordHeartbeat(ctx, tx, agent, status)
	})
	if err != nil {
		return nil, err
	}
	presented := s.liveness.Present(agent)
	return &presented, nil
}

// HeartbeatOrCreate records a check-in by name, creating the agent on first
// contact. Agents without a session get one on the default gateway when it
// is reachable; failures leave the session key empty.
func (s *Service) HeartbeatOrCreate(ctx context.Context, name string, status string) (*store.Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}

	agent, err := s.store.FindAgentByHeartbeatName(ctx, name)
	isNew := errors.Is(err, store.ErrNotFound)
	if err != nil && !isNew {
		return nil, fmt.Errorf("failed to find agent: %w", err)
	}

	now := s.clock.Now()
	if isNew {
		initial := status
		if initial == "" {
			initial = StatusOnline
		}
		agent = &store.Agent{
			Name:      name,
			Status:    initial,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	created := false
	if agent.SessionKey == "" {
		created = s.ensureSession(ctx, agent)
	}

	write := func(tx store.Store) error {
		if isNew {
			if err := tx.InsertAgent(ctx, agent); err != nil {
				return err
			}
		}
		if created {
			if err := appendSessionCreated(ctx, tx, agent, now); err != nil {
				return err
			}
		}
		return s.recordHeartbeat(ctx, tx, agent, status)
	}
	err = s.store.WithTx(ctx, write)
	if created && errors.Is(err, store.ErrSessionKeyTaken) {
		s.dropSession(agent)
		created = false
		err = s.store.WithTx(ctx, write)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	presented := s.liveness.Present(agent)
	return &presented, nil
}

// HeartbeatWithToken authenticates the agent by its credential.
func (s *Service) HeartbeatWithToken(ctx context.Context, token string, status string) (*store.Agent, error) {
	agent, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Heartbeat(ctx, agent.ID, status)
}

// Authenticate resolves the agent holding token.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.Agent, error) {
	if token == "" {
		return nil, ErrInvalidAgentToken
	}
	hash := provisioning.HashAgentToken(token)
	agent, err := s.store.FindAgentByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidAgentToken
		}
		return nil, fmt.Errorf("failed to authenticate agent: %w", err)
	}
	if !provisioning.VerifyAgentToken(token, agent.TokenHash) {
		return nil, ErrInvalidAgentToken
	}
	return agent, nil
}

// RotateToken issues a new credential and returns its plaintext once.
func (s *Service) RotateToken(ctx context.Context, id string) (*store.Agent, string, error) {
	token, err := provisioning.GenerateAgentToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue agent token: %w", err)
	}

	var agent *store.Agent
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		agent, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		agent.TokenHash = provisioning.HashAgentToken(token)
		agent.UpdatedAt = now
		if err := tx.SaveAgent(ctx, agent); err != nil {
			return fmt.Errorf("failed to save agent: %w", err)
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventTokenRotated,
			Message:   fmt.Sprintf("Token rotated for %s.", agent.Name),
			AgentID:   agent.ID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, "", err
	}

	slog.Info("Agent token rotated", "agent_id", agent.ID)
	presented := s.liveness.Present(agent)
	return &presented, token, nil
}

// RecentEvents lists the agent's newest activity.
func (s *Service) RecentEvents(ctx context.Context, id string, limit int) ([]store.ActivityEvent, error) {
	events, err := s.store.ListAgentEvents(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events: %w", err)
	}
	return events, nil
}

func (s *Service) load(ctx context.Context, st store.AgentStore, id string) (*store.Agent, error) {
	agent, err := st.GetAgent(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (s *Service) recordHeartbeat(ctx context.Context, tx store.Store, agent *store.Agent, status string) error {
	if status == "" {
		status = StatusOnline
	}
	now := s.clock.Now()
	agent.Status = status
	agent.LastSeenAt = &now
	agent.UpdatedAt = now
	if err := tx.SaveAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return tx.AppendEvent(ctx, &store.ActivityEvent{
		EventType: EventHeartbeat,
		Message:   fmt.Sprintf("Heartbeat received from %s.", agent.Name),
		AgentID:   agent.ID,
		CreatedAt: now,
	})
}

// ensureSession opens the agent's session on the default gateway and sets
// its key on success. It reports whether a session was created.
func (s *Service) ensureSession(ctx context.Context, agent *store.Agent) bool {
	if s.sessions == nil || !s.gateway.Valid() {
		return false
	}
	key := SessionKeyFor(agent.Name)
	holder, err := s.store.FindAgentBySessionKey(ctx, key)
	switch {
	case err == nil && holder.ID != agent.ID:
		slog.Warn("Session key already bound to another agent, continuing without session",
			"name", agent.Name, "session_key", key, "holder_id", holder.ID)
		return false
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.Error("Failed to check session key", "name", agent.Name, "session_key", key, "error", err)
		return false
	}
	if err := s.sessions.EnsureSession(ctx, key, s.gateway, agent.Name); err != nil {
		if openclaw.IsGatewayError(err) {
			slog.Warn("Gateway session creation failed", "name", agent.Name, "session_key", key, "error", err)
		} else {
			slog.Error("Session creation failed", "name", agent.Name, "session_key", key, "error", err)
		}
		return false
	}
	agent.SessionKey = key
	return true
}

// validateBoardID accepts an empty id (no board) or a UUID.
func validateBoardID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: board_id must be a UUID", ErrInvalidAgent)
	}
	return nil
}

// dropSession clears a session key that turned out to belong to another
// agent, typically one whose name slugs identically.
func (s *Service) dropSession(agent *store.Agent) {
	slog.Warn("Session key already bound to another agent, continuing without session",
		"name", agent.Name, "session_key", agent.SessionKey)
	agent.SessionKey = ""
}

func appendSessionCreated(ctx context.Context, tx store.Store, agent *store.Agent, now time.Time) error {
	return tx.AppendEvent(ctx, &store.ActivityEvent{
		EventType: EventSessionCreated,
		Message:   fmt.Sprintf("Session created for %s.", agent.Name),
		AgentID:   agent.ID,
		CreatedAt: now,
	})
}
