package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
	"github.com/TomBuge/openclaw-mission-control/internal/auth"
	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/gateways"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSessions struct {
	keys []string
}

func (s *stubSessions) EnsureSession(_ context.Context, key string, _ openclaw.Config, _ string) error {
	s.keys = append(s.keys, key)
	return nil
}

func (s *stubSessions) SendMessage(context.Context, string, string, openclaw.Config, bool) error {
	return nil
}

type tokenNotifier struct {
	tokens []string
}

func (n *tokenNotifier) NotifyProvisioned(_ context.Context, note provisioning.Notification) error {
	n.tokens = append(n.tokens, note.Token)
	return nil
}

type testServer struct {
	router   *gin.Engine
	store    *store.SQLiteStore
	clock    *clock.Fake
	notifier *tokenNotifier
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &stubSessions{}
	notifier := &tokenNotifier{}

	agentService := agents.NewService(st, sessions, openclaw.Config{URL: "ws://gw.test", Token: "t"},
		agents.NewLiveness(clk, agents.DefaultOfflineAfter), clk)
	gatewayService := gateways.NewService(st, provisioning.NewReconciler(st, sessions, notifier, clk), clk)

	agentsHandler := NewAgentsHandler(agentService)
	gatewaysHandler := NewGatewaysHandler(gatewayService)
	activityHandler := NewActivityHandler(st)

	r := gin.New()
	r.GET("/health", NewHealthHandler(st).Check)
	r.POST("/auth/token", NewAuthHandler("admin-key", auth.Config{Secret: "jwt-secret"}).IssueToken)
	r.GET("/agents", agentsHandler.ListAgents)
	r.POST("/agents", agentsHandler.CreateAgent)
	r.POST("/agents/heartbeat", agentsHandler.HeartbeatOrCreate)
	r.GET("/agents/:id", agentsHandler.GetAgent)
	r.PATCH("/agents/:id", agentsHandler.UpdateAgent)
	r.DELETE("/agents/:id", agentsHandler.DeleteAgent)
	r.POST("/agents/:id/heartbeat", agentsHandler.Heartbeat)
	r.POST("/agents/:id/token", agentsHandler.RotateToken)
	r.POST("/agent/heartbeat", agentsHandler.SelfHeartbeat)
	r.GET("/gateways", gatewaysHandler.ListGateways)
	r.POST("/gateways", func(c *gin.Context) {
		c.Set("actor", "tester")
		gatewaysHandler.CreateGateway(c)
	})
	r.GET("/gateways/:id", gatewaysHandler.GetGateway)
	r.PATCH("/gateways/:id", gatewaysHandler.UpdateGateway)
	r.DELETE("/gateways/:id", gatewaysHandler.DeleteGateway)
	r.GET("/activity", activityHandler.ListActivity)

	return &testServer{router: r, store: st, clock: clk, notifier: notifier}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		buf = bytes.NewBuffer(raw)
	} else {
		buf = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[dto.HealthResponse](t, w).Status)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthUnavailable(t *testing.T) {
	r := gin.New()
	r.GET("/health", NewHealthHandler(failingPinger{}).Check)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAgentCRUD(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/agents", dto.CreateAgentRequest{Name: "worker"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[dto.AgentResponse](t, w)
	assert.Equal(t, "worker", created.Name)
	assert.Equal(t, agents.StatusProvisioning, created.Status)
	assert.Equal(t, "openclaw-agency-worker", created.SessionKey)

	w = s.do("GET", "/agents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[dto.AgentResponse](t, w).ID)

	name := "worker-2"
	w = s.do("PATCH", "/agents/"+created.ID, dto.UpdateAgentRequest{Name: &name})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "worker-2", decode[dto.AgentResponse](t, w).Name)

	w = s.do("GET", "/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListAgentsResponse](t, w)
	assert.Equal(t, 1, list.Count)

	w = s.do("DELETE", "/agents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.OkResponse](t, w).Ok)

	w = s.do("GET", "/agents/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAgentMissingName(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/agents", map[string]string{"status": "online"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentBoardIDValidation(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/agents", dto.CreateAgentRequest{Name: "worker", BoardID: "board-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/agents", dto.CreateAgentRequest{Name: "worker"})
	require.Equal(t, http.StatusCreated, w.Code)
	agent := decode[dto.AgentResponse](t, w)

	bad := "board-1"
	w = s.do("PATCH", "/agents/"+agent.ID, dto.UpdateAgentRequest{BoardID: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	board := "6f1c2d3e-4a5b-4c6d-8e7f-901234567890"
	w = s.do("PATCH", "/agents/"+agent.ID, dto.UpdateAgentRequest{BoardID: &board})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, board, decode[dto.AgentResponse](t, w).BoardID)
}

func TestHeartbeatEndpoints(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/agents/heartbeat", dto.HeartbeatCreateRequest{Name: "scout"})
	require.Equal(t, http.StatusOK, w.Code)
	agent := decode[dto.AgentResponse](t, w)
	assert.Equal(t, agents.StatusOnline, agent.Status)
	require.NotNil(t, agent.LastSeenAt)

	s.clock.Advance(11 * time.Minute)
	w = s.do("GET", "/agents/"+agent.ID, nil)
	assert.Equal(t, agents.StatusOffline, decode[dto.AgentResponse](t, w).Status)

	w = s.do("POST", "/agents/"+agent.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agents.StatusOnline, decode[dto.AgentResponse](t, w).Status)

	w = s.do("POST", "/agents/missing/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRotateTokenAndSelfHeartbeat(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/agents", dto.CreateAgentRequest{Name: "runner"})
	require.Equal(t, http.StatusCreated, w.Code)
	agent := decode[dto.AgentResponse](t, w)

	w = s.do("POST", "/agents/"+agent.ID+"/token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	issued := decode[dto.AgentTokenResponse](t, w)
	require.NotEmpty(t, issued.Token)

	w = s.do("POST", "/agent/heartbeat", dto.HeartbeatRequest{Status: "busy"}, AgentTokenHeader, issued.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "busy", decode[dto.AgentResponse](t, w).Status)

	w = s.do("POST", "/agent/heartbeat", nil, AgentTokenHeader, "mca_wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do("POST", "/agent/heartbeat", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGatewayLifecycle(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/gateways", dto.CreateGatewayRequest{Name: "Alpha", URL: "ws://alpha", Token: "secret"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[dto.GatewayWithAgentResponse](t, w)
	assert.Equal(t, "agent:alpha:main", created.Gateway.MainSessionKey)
	assert.True(t, created.Gateway.TokenConfigured)
	assert.NotContains(t, w.Body.String(), "secret")
	require.NotNil(t, created.MainAgent)
	assert.Equal(t, "Alpha Main", created.MainAgent.Name)
	require.Len(t, s.notifier.tokens, 1)
	assert.NotContains(t, w.Body.String(), s.notifier.tokens[0])

	name := "Beta"
	w = s.do("PATCH", "/gateways/"+created.Gateway.ID, dto.UpdateGatewayRequest{Name: &name})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[dto.GatewayWithAgentResponse](t, w)
	require.NotNil(t, updated.MainAgent)
	assert.Equal(t, created.MainAgent.ID, updated.MainAgent.ID)
	assert.Equal(t, "Beta Main", updated.MainAgent.Name)

	w = s.do("GET", "/gateways?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListGatewaysResponse](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 10, list.Limit)

	w = s.do("DELETE", "/gateways/"+created.Gateway.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/gateways/"+created.Gateway.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListActivity(t *testing.T) {
	s := setupTestServer(t)

	for _, name := range []string{"a", "b", "c"} {
		s.clock.Advance(time.Second)
		w := s.do("POST", "/agents/heartbeat", dto.HeartbeatCreateRequest{Name: name})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do("GET", "/activity?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.ListActivityResponse](t, w)
	require.Len(t, page.Items, 2)
	assert.False(t, page.Items[0].CreatedAt.Before(page.Items[1].CreatedAt))

	w = s.do("GET", "/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, decode[dto.ListActivityResponse](t, w).Limit)
}

func TestListActivityRejectsBadPaging(t *testing.T) {
	s := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/activity?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/activity?limit=201", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/activity?offset=-1", nil).Code)
}

func TestIssueToken(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/auth/token", dto.TokenRequest{Username: "operator", APIKey: "admin-key"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.TokenResponse](t, w)
	claims, err := auth.ValidateToken("jwt-secret", resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	w = s.do("POST", "/auth/token", dto.TokenRequest{Username: "operator", APIKey: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
