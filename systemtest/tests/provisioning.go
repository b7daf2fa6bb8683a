package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
)

func TestGatewayProvisioning(t *testing.T, env *Env) {
	gw := env.Gateway.Config()

	rr := env.admin("POST", "/api/v1/gateways", dto.CreateGatewayRequest{Name: "Fleet", URL: gw.URL, Token: gw.Token})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created dto.GatewayWithAgentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotNil(t, created.MainAgent)
	assert.Equal(t, "Fleet Main", created.MainAgent.Name)
	assert.Equal(t, "agent:fleet:main", created.MainAgent.SessionKey)
	assert.Equal(t, provisioning.ActionProvision, created.MainAgent.ProvisionAction)
	assert.Contains(t, env.Gateway.Methods(), "sessions.patch")
	assert.Contains(t, env.Gateway.Methods(), "chat.send")

	token := env.Notifier.Last()
	require.NotEmpty(t, token)
	stored, err := env.Store.GetAgent(context.Background(), created.MainAgent.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored.TokenHash)

	name := "Fleet Renamed"
	rr = env.admin("PATCH", "/api/v1/gateways/"+created.Gateway.ID, dto.UpdateGatewayRequest{Name: &name})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated dto.GatewayWithAgentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	require.NotNil(t, updated.MainAgent)
	assert.Equal(t, created.MainAgent.ID, updated.MainAgent.ID)
	assert.Equal(t, "Fleet Renamed Main", updated.MainAgent.Name)
	assert.Equal(t, provisioning.ActionUpdate, updated.MainAgent.ProvisionAction)

	rr = doJSON(env.Router, "POST", "/api/v1/agent/heartbeat", nil, map[string]string{"X-Agent-Token": env.Notifier.Last()})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAgentHeartbeats(t *testing.T, env *Env) {
	rr := env.admin("POST", "/api/v1/agents/heartbeat", dto.HeartbeatCreateRequest{Name: "courier"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var first dto.AgentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.Equal(t, "online", first.Status)
	assert.Equal(t, "openclaw-agency-courier", first.SessionKey)

	rr = env.admin("POST", "/api/v1/agents/heartbeat", dto.HeartbeatCreateRequest{Name: "courier", Status: "busy"})
	require.Equal(t, http.StatusOK, rr.Code)
	var second dto.AgentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "busy", second.Status)

	rr = env.admin("GET", "/api/v1/activity?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page dto.ListActivityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.NotEmpty(t, page.Items)
}
