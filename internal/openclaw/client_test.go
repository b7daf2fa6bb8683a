package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	t        *testing.T
	token    string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests []requestFrame
	// handle decides the response for non-connect methods. Returning nil
	// leaves the request unanswered.
	handle func(req requestFrame) *responseFrame
}

func newFakeGateway(t *testing.T, token string) (*fakeGateway, *httptest.Server) {
	gw := &fakeGateway{
		t:     t,
		token: token,
		handle: func(req requestFrame) *responseFrame {
			return &responseFrame{Type: frameResponse, ID: req.ID, OK: true, Payload: json.RawMessage(`{}`)}
		},
	}
	server := httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(server.Close)
	return gw, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req struct {
			requestFrame
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		frame := req.requestFrame
		var params map[string]any
		_ = json.Unmarshal(req.Params, &params)
		frame.Params = params

		g.mu.Lock()
		g.requests = append(g.requests, frame)
		g.mu.Unlock()

		// Unrelated traffic the client must skip.
		_ = conn.WriteJSON(map[string]any{"type": "event", "event": "tick"})

		var res *responseFrame
		if frame.Method == methodConnect {
			auth, _ := params["auth"].(map[string]any)
			if auth["token"] == g.token {
				res = &responseFrame{Type: frameResponse, ID: frame.ID, OK: true}
			} else {
				res = &responseFrame{Type: frameResponse, ID: frame.ID, Error: &remoteError{Code: "auth_failed", Message: "bad token"}}
			}
		} else {
			res = g.handle(frame)
		}
		if res == nil {
			continue
		}
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}

func (g *fakeGateway) recorded() []requestFrame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]requestFrame(nil), g.requests...)
}

func TestEnsureSession(t *testing.T) {
	gw, server := newFakeGateway(t, "secret")
	client := NewClient(time.Second)

	err := client.EnsureSession(context.Background(), "agent:ops:main", Config{URL: wsURL(server), Token: "secret"}, "Ops Main")
	require.NoError(t, err)

	reqs := gw.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, methodConnect, reqs[0].Method)
	assert.Equal(t, methodSessionPatch, reqs[1].Method)
	params := reqs[1].Params.(map[string]any)
	assert.Equal(t, "agent:ops:main", params["key"])
	assert.Equal(t, "Ops Main", params["label"])
}

func TestSendMessage(t *testing.T) {
	gw, server := newFakeGateway(t, "secret")
	client := NewClient(time.Second)

	err := client.SendMessage(context.Background(), "hello", "agent:ops:main", Config{URL: wsURL(server), Token: "secret"}, true)
	require.NoError(t, err)

	reqs := gw.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, methodChatSend, reqs[1].Method)
	params := reqs[1].Params.(map[string]any)
	assert.Equal(t, "agent:ops:main", params["sessionKey"])
	assert.Equal(t, "hello", params["message"])
	assert.Equal(t, true, params["deliver"])
	assert.NotEmpty(t, params["idempotencyKey"])
}

func TestCallDecodesPayload(t *testing.T) {
	gw, server := newFakeGateway(t, "")
	gw.handle = func(req requestFrame) *responseFrame {
		return &responseFrame{Type: frameResponse, ID: req.ID, OK: true, Payload: json.RawMessage(`{"sessions":3}`)}
	}
	client := NewClient(time.Second)

	var out struct {
		Sessions int `json:"sessions"`
	}
	err := client.Call(context.Background(), Config{URL: wsURL(server)}, "sessions.list", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Sessions)
}

func TestRemoteErrorIsGatewayError(t *testing.T) {
	gw, server := newFakeGateway(t, "secret")
	gw.handle = func(req requestFrame) *responseFrame {
		return &responseFrame{Type: frameResponse, ID: req.ID, Error: &remoteError{Code: "session_locked", Message: "locked"}}
	}
	client := NewClient(time.Second)

	err := client.EnsureSession(context.Background(), "agent:ops:main", Config{URL: wsURL(server), Token: "secret"}, "")
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, methodSessionPatch, gwErr.Method)
	assert.Equal(t, "session_locked", gwErr.Code)
	assert.Contains(t, err.Error(), "locked")
}

func TestConnectRejectedIsUnauthorized(t *testing.T) {
	gw, server := newFakeGateway(t, "secret")
	client := NewClient(time.Second)

	err := client.EnsureSession(context.Background(), "agent:ops:main", Config{URL: wsURL(server), Token: "wrong"}, "")

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, CodeUnauthorized, gwErr.Code)
	assert.Equal(t, methodSessionPatch, gwErr.Method)

	// Nothing past the handshake reaches the gateway.
	reqs := gw.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, methodConnect, reqs[0].Method)
}

func TestDialFailureIsGatewayError(t *testing.T) {
	_, server := newFakeGateway(t, "")
	url := wsURL(server)
	server.Close()

	err := NewClient(time.Second).SendMessage(context.Background(), "hi", "k", Config{URL: url}, false)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, CodeUnavailable, gwErr.Code)
	assert.True(t, IsGatewayError(err))
}

func TestUnansweredCallTimesOut(t *testing.T) {
	gw, server := newFakeGateway(t, "")
	gw.handle = func(requestFrame) *responseFrame { return nil }

	start := time.Now()
	err := NewClient(200*time.Millisecond).EnsureSession(context.Background(), "k", Config{URL: wsURL(server)}, "")

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, CodeUnavailable, gwErr.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMissingURLIsNotConfigured(t *testing.T) {
	err := NewClient(0).EnsureSession(context.Background(), "k", Config{}, "")

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, CodeNotConfigured, gwErr.Code)
	assert.False(t, Config{}.Valid())
	assert.True(t, Config{URL: "ws://gw"}.Valid())
}
