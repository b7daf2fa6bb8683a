package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type Env struct {
	Router   *gin.Engine
	Store    store.Store
	Gateway  *FakeGateway
	Notifier *CapturingNotifier
	APIKey   string
}

func (e *Env) admin(method, path string, body any) *httptest.ResponseRecorder {
	return doJSON(e.Router, method, path, body, map[string]string{"X-API-Key": e.APIKey})
}

func doJSON(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	buf := &bytes.Buffer{}
	if body != nil {
		_ = json.NewEncoder(buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type CapturingNotifier struct {
	mu     sync.Mutex
	tokens []string
}

func (n *CapturingNotifier) NotifyProvisioned(_ context.Context, note provisioning.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, note.Token)
	return nil
}

func (n *CapturingNotifier) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.tokens) == 0 {
		return ""
	}
	return n.tokens[len(n.tokens)-1]
}

type gatewayFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// FakeGateway accepts every OpenClaw RPC and records the methods called.
type FakeGateway struct {
	srv     *httptest.Server
	mu      sync.Mutex
	methods []string
}

func NewFakeGateway() *FakeGateway {
	g := &FakeGateway{}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame gatewayFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			g.mu.Lock()
			g.methods = append(g.methods, frame.Method)
			g.mu.Unlock()
			if err := conn.WriteJSON(map[string]any{"type": "res", "id": frame.ID, "ok": true, "payload": map[string]any{}}); err != nil {
				return
			}
		}
	}))
	return g
}

func (g *FakeGateway) Config() openclaw.Config {
	return openclaw.Config{URL: "ws" + g.srv.URL[len("http"):], Token: "gateway-token"}
}

func (g *FakeGateway) Methods() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.methods...)
}

func (g *FakeGateway) Close() {
	g.srv.Close()
}
