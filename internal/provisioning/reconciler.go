package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

const (
	EventProvisionRequested = "agent.provision.requested"
	EventProvisionFailed    = "agent.provision.failed"
)

// SessionClient is the subset of the gateway client used during provisioning.
type SessionClient interface {
	EnsureSession(ctx context.Context, sessionKey string, cfg openclaw.Config, label string) error
	SendMessage(ctx context.Context, text, sessionKey string, cfg openclaw.Config, deliver bool) error
}

// Notification carries everything a Notifier may forward. Token is the
// freshly issued plaintext credential.
type Notification struct {
	Agent   *store.Agent
	Gateway *store.Gateway
	Token   string
	Actor   string
	Action  string
}

// Notifier hands a newly issued credential to whoever installs the agent.
type Notifier interface {
	NotifyProvisioned(ctx context.Context, n Notification) error
}

// EnsureRequest describes one reconciliation. PreviousName and
// PreviousSessionKey are the gateway's values before an update.
type EnsureRequest struct {
	Gateway            *store.Gateway
	PreviousName       string
	PreviousSessionKey string
	Action             string
	Actor              string
}

type Reconciler struct {
	store    store.Store
	sessions SessionClient
	notifier Notifier
	clock    clock.Clock
}

func NewReconciler(st store.Store, sessions SessionClient, notifier Notifier, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Reconciler{
		store:    st,
		sessions: sessions,
		notifier: notifier,
		clock:    clk,
	}
}

type lookup struct {
	strategy string
	find     func(ctx context.Context, s store.AgentStore) (*store.Agent, error)
}

// lookups lists the resolution strategies in precedence order.
func lookups(req EnsureRequest) []lookup {
	var out []lookup
	seenKeys := make(map[string]bool)
	seenNames := make(map[string]bool)

	addKey := func(strategy, key string) {
		if key == "" || seenKeys[key] {
			return
		}
		seenKeys[key] = true
		out = append(out, lookup{strategy: strategy, find: func(ctx context.Context, s store.AgentStore) (*store.Agent, error) {
			return s.FindAgentBySessionKey(ctx, key)
		}})
	}
	addName := func(strategy, gatewayName string) {
		if gatewayName == "" {
			return
		}
		name := MainAgentName(gatewayName)
		if seenNames[name] {
			return
		}
		seenNames[name] = true
		out = append(out, lookup{strategy: strategy, find: func(ctx context.Context, s store.AgentStore) (*store.Agent, error) {
			return s.FindAgentByName(ctx, name)
		}})
	}

	addKey("session_key", req.Gateway.MainSessionKey)
	addKey("previous_session_key", req.PreviousSessionKey)
	addName("name", req.Gateway.Name)
	addName("previous_name", req.PreviousName)
	return out
}

// resolve returns the first agent matched by the lookup strategies, or
// store.ErrNotFound.
func (r *Reconciler) resolve(ctx context.Context, s store.AgentStore, req EnsureRequest) (*store.Agent, string, error) {
	for _, l := range lookups(req) {
		agent, err := l.find(ctx, s)
		if err == nil {
			return agent, l.strategy, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("failed to resolve main agent by %s: %w", l.strategy, err)
		}
	}
	return nil, "", store.ErrNotFound
}

// EnsureMainAgent finds or creates the gateway's main agent, binds it to
// the gateway's main session and issues it a fresh credential. Gateway-side
// provisioning is best-effort; only local storage failures are returned.
// A gateway without a URL or main session key is a no-op returning nil, nil.
func (r *Reconciler) EnsureMainAgent(ctx context.Context, req EnsureRequest) (*store.Agent, error) {
	gateway := req.Gateway
	if gateway == nil || gateway.URL == "" || gateway.MainSessionKey == "" {
		return nil, nil
	}
	if req.Action == "" {
		req.Action = ActionProvision
	}

	agent, err := r.findOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := GenerateAgentToken()
	if err != nil {
		return nil, fmt.Errorf("failed to issue agent token: %w", err)
	}

	now := r.clock.Now()
	err = r.bind(ctx, agent, req, token, now)
	if errors.Is(err, store.ErrSessionKeyTaken) {
		// The main key went to another agent after findOrCreate; bind that one.
		slog.Info("Main session key bound concurrently, re-resolving",
			"session_key", gateway.MainSessionKey, "agent_id", agent.ID)
		agent, _, err = r.resolve(ctx, r.store, req)
		if err != nil {
			return nil, fmt.Errorf("failed to re-resolve main agent: %w", err)
		}
		err = r.bind(ctx, agent, req, token, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind main agent: %w", err)
	}

	slog.Info("Main agent bound to gateway",
		"agent_id", agent.ID,
		"gateway_id", gateway.ID,
		"session_key", agent.SessionKey,
		"action", req.Action)

	if err := r.provisionRemote(ctx, agent, gateway, token, req); err != nil {
		r.recordFailure(ctx, agent, gateway, err)
	}

	return agent, nil
}

// bind stamps the main session, credential and provisioning request onto
// agent and saves it with a provision.requested event.
func (r *Reconciler) bind(ctx context.Context, agent *store.Agent, req EnsureRequest, token string, now time.Time) error {
	agent.Name = MainAgentName(req.Gateway.Name)
	agent.SessionKey = req.Gateway.MainSessionKey
	agent.TokenHash = HashAgentToken(token)
	agent.ProvisionRequestedAt = &now
	agent.ProvisionAction = req.Action
	agent.UpdatedAt = now
	if agent.HeartbeatConfig == nil {
		agent.HeartbeatConfig = DefaultHeartbeatConfig()
	}

	return r.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.SaveAgent(ctx, agent); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventProvisionRequested,
			Message:   fmt.Sprintf("Provisioning %s requested for %s on gateway %s.", req.Action, agent.Name, req.Gateway.Name),
			AgentID:   agent.ID,
			CreatedAt: now,
		})
	})
}

func (r *Reconciler) findOrCreate(ctx context.Context, req EnsureRequest) (*store.Agent, error) {
	agent, strategy, err := r.resolve(ctx, r.store, req)
	if err == nil {
		slog.Debug("Resolved main agent", "agent_id", agent.ID, "strategy", strategy)
		return agent, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := r.clock.Now()
	agent = &store.Agent{
		Name:            MainAgentName(req.Gateway.Name),
		Status:          StatusProvisioning,
		SessionKey:      req.Gateway.MainSessionKey,
		HeartbeatConfig: DefaultHeartbeatConfig(),
		IdentityProfile: DefaultIdentityProfile(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = r.store.WithTx(ctx, func(tx store.Store) error {
		// Another request may have bound the key since resolve ran.
		existing, err := tx.FindAgentBySessionKey(ctx, req.Gateway.MainSessionKey)
		if err == nil {
			agent = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.InsertAgent(ctx, agent)
	})
	if errors.Is(err, store.ErrSessionKeyTaken) {
		slog.Info("Main session key bound concurrently, re-resolving",
			"session_key", req.Gateway.MainSessionKey)
		agent, _, err = r.resolve(ctx, r.store, req)
		if err != nil {
			return nil, fmt.Errorf("failed to re-resolve main agent: %w", err)
		}
		return agent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create main agent: %w", err)
	}
	return agent, nil
}

func (r *Reconciler) provisionRemote(ctx context.Context, agent *store.Agent, gateway *store.Gateway, token string, req EnsureRequest) error {
	if r.notifier != nil {
		err := r.notifier.NotifyProvisioned(ctx, Notification{
			Agent:   agent,
			Gateway: gateway,
			Token:   token,
			Actor:   req.Actor,
			Action:  req.Action,
		})
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}

	if r.sessions == nil {
		return nil
	}

	cfg := openclaw.Config{URL: gateway.URL, Token: gateway.Token}
	if err := r.sessions.EnsureSession(ctx, gateway.MainSessionKey, cfg, agent.Name); err != nil {
		return err
	}
	return r.sessions.SendMessage(ctx, OnboardingMessage(agent.Name), gateway.MainSessionKey, cfg, true)
}

func (r *Reconciler) recordFailure(ctx context.Context, agent *store.Agent, gateway *store.Gateway, err error) {
	if openclaw.IsGatewayError(err) {
		slog.Warn("Gateway provisioning failed",
			"agent_id", agent.ID,
			"gateway_id", gateway.ID,
			"error", err)
	} else {
		slog.Error("Provisioning failed",
			"agent_id", agent.ID,
			"gateway_id", gateway.ID,
			"error", err)
	}

	event := &store.ActivityEvent{
		EventType: EventProvisionFailed,
		Message:   fmt.Sprintf("Provisioning failed for %s: %v", agent.Name, err),
		AgentID:   agent.ID,
		CreatedAt: r.clock.Now(),
	}
	if appendErr := r.store.AppendEvent(ctx, event); appendErr != nil {
		slog.Warn("Failed to record provisioning failure", "agent_id", agent.ID, "error", appendErr)
	}
}
