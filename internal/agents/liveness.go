package agents

import (
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	DefaultOfflineAfter = 10 * time.Minute
)

// Liveness derives an agent's observable status from its last heartbeat.
// It never writes.
type Liveness struct {
	clock        clock.Clock
	offlineAfter time.Duration
}

func NewLiveness(clk clock.Clock, offlineAfter time.Duration) *Liveness {
	if clk == nil {
		clk = clock.Real()
	}
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	return &Liveness{clock: clk, offlineAfter: offlineAfter}
}

// EffectiveStatus is "offline" once the last heartbeat is older than the
// threshold, otherwise the stored status. Agents that never sent a heartbeat
// keep their stored status.
func (l *Liveness) EffectiveStatus(agent *store.Agent) string {
	if agent.LastSeenAt != nil && l.clock.Now().Sub(*agent.LastSeenAt) > l.offlineAfter {
		return StatusOffline
	}
	return agent.Status
}

// Present returns a copy of agent carrying its effective status.
func (l *Liveness) Present(agent *store.Agent) store.Agent {
	out := *agent
	out.Status = l.EffectiveStatus(agent)
	return out
}
