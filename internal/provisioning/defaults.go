package provisioning

import "github.com/TomBuge/openclaw-mission-control/internal/store"

const (
	ActionProvision = "provision"
	ActionUpdate    = "update"

	StatusProvisioning = "provisioning"
)

// DefaultHeartbeatConfig returns a fresh copy on every call.
func DefaultHeartbeatConfig() *store.HeartbeatConfig {
	return &store.HeartbeatConfig{
		Every:  "10m",
		Target: "none",
	}
}

// DefaultIdentityProfile is assigned to newly created main agents.
func DefaultIdentityProfile() *store.IdentityProfile {
	return &store.IdentityProfile{
		Role:               "Main Agent",
		CommunicationStyle: "direct, concise, practical",
		Emoji:              ":compass:",
	}
}

// MainAgentName is the display name of a gateway's main agent.
func MainAgentName(gatewayName string) string {
	return gatewayName + " Main"
}

// OnboardingMessage is delivered to the main agent after provisioning.
func OnboardingMessage(agentName string) string {
	return "Hello " + agentName + ". Your gateway provisioning was updated.\n\n" +
		"Please re-read AGENTS.md, USER.md, HEARTBEAT.md, and TOOLS.md. " +
		"If BOOTSTRAP.md exists, run it once then delete it. Begin heartbeats after startup."
}
