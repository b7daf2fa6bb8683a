// Package gateways manages OpenClaw gateway configurations and keeps each
// gateway's main agent reconciled with it.
package gateways

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
	"github.com/TomBuge/openclaw-mission-control/internal/slug"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

const (
	EventCreated = "gateway.created"
	EventUpdated = "gateway.updated"
	EventDeleted = "gateway.deleted"
)

var (
	ErrGatewayNotFound = errors.New("gateway not found")
	ErrInvalidGateway  = errors.New("invalid gateway")
)

// MainAgentReconciler binds a gateway's main agent.
type MainAgentReconciler interface {
	EnsureMainAgent(ctx context.Context, req provisioning.EnsureRequest) (*store.Agent, error)
}

type CreateInput struct {
	Name           string
	URL            string
	Token          string
	MainSessionKey string
}

// UpdateInput applies only the non-nil fields.
type UpdateInput struct {
	Name           *string
	URL            *string
	Token          *string
	MainSessionKey *string
}

// Result is a gateway together with its reconciled main agent, which is nil
// while the gateway is not fully configured.
type Result struct {
	Gateway   *store.Gateway
	MainAgent *store.Agent
}

type Service struct {
	store      store.Store
	reconciler MainAgentReconciler
	clock      clock.Clock
}

func NewService(st store.Store, reconciler MainAgentReconciler, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{store: st, reconciler: reconciler, clock: clk}
}

// MainSessionKeyFor derives the default main session key from a name.
func MainSessionKeyFor(name string) string {
	return "agent:" + slug.Derive(name) + ":main"
}

// List returns gateways newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]store.Gateway, error) {
	gateways, err := s.store.ListGateways(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	return gateways, nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Gateway, error) {
	return s.load(ctx, s.store, id)
}

// Create stores the gateway and provisions its main agent.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*Result, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidGateway)
	}
	if in.MainSessionKey == "" {
		in.MainSessionKey = MainSessionKeyFor(in.Name)
	}

	now := s.clock.Now()
	gateway := &store.Gateway{
		Name:           in.Name,
		URL:            in.URL,
		Token:          in.Token,
		MainSessionKey: in.MainSessionKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertGateway(ctx, gateway); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventCreated,
			Message:   fmt.Sprintf("Gateway %s created.", gateway.Name),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	slog.Info("Gateway created", "gateway_id", gateway.ID, "name", gateway.Name)

	agent, err := s.reconciler.EnsureMainAgent(ctx, provisioning.EnsureRequest{
		Gateway: gateway,
		Action:  provisioning.ActionProvision,
		Actor:   actor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision main agent: %w", err)
	}
	return &Result{Gateway: gateway, MainAgent: agent}, nil
}

// Update edits the gateway and re-reconciles its main agent, following a
// rename or session key rotation.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, actor string) (*Result, error) {
	var gateway *store.Gateway
	var previousName, previousKey string

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		gateway, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		previousName = gateway.Name
		previousKey = gateway.MainSessionKey

		if in.Name != nil {
			if *in.Name == "" {
				return fmt.Errorf("%w: name must not be empty", ErrInvalidGateway)
			}
			gateway.Name = *in.Name
		}
		if in.URL != nil {
			gateway.URL = *in.URL
		}
		if in.Token != nil {
			gateway.Token = *in.Token
		}
		if in.MainSessionKey != nil {
			gateway.MainSessionKey = *in.MainSessionKey
		}
		gateway.UpdatedAt = s.clock.Now()

		if err := tx.SaveGateway(ctx, gateway); err != nil {
			return fmt.Errorf("failed to save gateway: %w", err)
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventUpdated,
			Message:   fmt.Sprintf("Gateway %s updated.", gateway.Name),
			CreatedAt: gateway.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	agent, err := s.reconciler.EnsureMainAgent(ctx, provisioning.EnsureRequest{
		Gateway:            gateway,
		PreviousName:       previousName,
		PreviousSessionKey: previousKey,
		Action:             provisioning.ActionUpdate,
		Actor:              actor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile main agent: %w", err)
	}
	return &Result{Gateway: gateway, MainAgent: agent}, nil
}

// Delete removes the gateway. Its main agent is left in place.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		gateway, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteGateway(ctx, id); err != nil {
			return fmt.Errorf("failed to delete gateway: %w", err)
		}
		return tx.AppendEvent(ctx, &store.ActivityEvent{
			EventType: EventDeleted,
			Message:   fmt.Sprintf("Gateway %s deleted.", gateway.Name),
			CreatedAt: s.clock.Now(),
		})
	})
}

func (s *Service) load(ctx context.Context, st store.GatewayStore, id string) (*store.Gateway, error) {
	gateway, err := st.GetGateway(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGatewayNotFound
		}
		return nil, fmt.Errorf("failed to get gateway: %w", err)
	}
	return gateway, nil
}
