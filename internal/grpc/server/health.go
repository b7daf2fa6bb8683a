package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

// AgentServicePrefix selects an agent by session key, e.g. "agent/agent:ops:main".
const AgentServicePrefix = "agent/"

const defaultWatchInterval = 30 * time.Second

type AgentLookup interface {
	GetBySessionKey(ctx context.Context, key string) (*store.Agent, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService answers grpc.health.v1 probes. The empty service name reports
// storage health; "agent/<session key>" reports SERVING while the agent is
// online.
type HealthService struct {
	healthpb.UnimplementedHealthServer
	agents        AgentLookup
	db            Pinger
	watchInterval time.Duration
}

func NewHealthService(lookup AgentLookup, db Pinger, watchInterval time.Duration) *HealthService {
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	return &HealthService{agents: lookup, db: db, watchInterval: watchInterval}
}

func (h *HealthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	st, err := h.status(ctx, req.GetService())
	if err != nil {
		return nil, err
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Watch polls the status and streams every change until the client goes away.
// Unknown agents are reported as SERVICE_UNKNOWN rather than ending the stream.
func (h *HealthService) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_ServingStatus(-1)
	for {
		st, err := h.status(stream.Context(), req.GetService())
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			st = healthpb.HealthCheckResponse_SERVICE_UNKNOWN
		}
		if st != last {
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
			last = st
		}

		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *HealthService) status(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if service == "" {
		if h.db == nil {
			return healthpb.HealthCheckResponse_SERVING, nil
		}
		if err := h.db.Ping(ctx); err != nil {
			slog.Warn("Storage health check failed", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING, nil
		}
		return healthpb.HealthCheckResponse_SERVING, nil
	}

	key, ok := strings.CutPrefix(service, AgentServicePrefix)
	if !ok || key == "" {
		return 0, status.Errorf(codes.NotFound, "unknown service %q", service)
	}

	agent, err := h.agents.GetBySessionKey(ctx, key)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			return 0, status.Errorf(codes.NotFound, "unknown agent %q", key)
		}
		slog.Error("Failed to look up agent for health check", "session_key", key, "error", err)
		return 0, status.Error(codes.Internal, "failed to look up agent")
	}

	if agent.Status == agents.StatusOnline {
		return healthpb.HealthCheckResponse_SERVING, nil
	}
	return healthpb.HealthCheckResponse_NOT_SERVING, nil
}
