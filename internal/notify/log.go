// Package notify delivers freshly provisioned agent credentials out of band.
package notify

import (
	"context"
	"log/slog"

	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
)

// LogNotifier records provisioning in the log. It never writes the token,
// only a short fingerprint of its hash.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With("component", "notify")}
}

func (n *LogNotifier) NotifyProvisioned(ctx context.Context, note provisioning.Notification) error {
	n.log.InfoContext(ctx, "Agent credential issued",
		"agent_id", note.Agent.ID,
		"agent_name", note.Agent.Name,
		"gateway_id", note.Gateway.ID,
		"session_key", note.Agent.SessionKey,
		"action", note.Action,
		"actor", note.Actor,
		"token_fingerprint", Fingerprint(note.Token))
	return nil
}

// Fingerprint identifies a token without revealing it.
func Fingerprint(token string) string {
	return provisioning.HashAgentToken(token)[:12]
}
