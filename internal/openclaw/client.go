// Package openclaw is a minimal RPC client for OpenClaw gateways.
//
// Each call dials a fresh websocket, authenticates with a connect request and
// issues exactly one request. Frames are JSON:
//
//	{"type":"req","id":"...","method":"sessions.patch","params":{...}}
//	{"type":"res","id":"...","ok":true,"payload":{...}}
//	{"type":"res","id":"...","ok":false,"error":{"code":"...","message":"..."}}
//
// Frames of type "event" are ignored.
package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultTimeout = 10 * time.Second

	methodConnect      = "connect"
	methodSessionPatch = "sessions.patch"
	methodChatSend     = "chat.send"

	frameRequest  = "req"
	frameResponse = "res"
)

// Config addresses one gateway.
type Config struct {
	URL   string
	Token string
}

// Valid reports whether the gateway can be called at all.
func (c Config) Valid() bool {
	return c.URL != ""
}

type requestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type responseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *remoteError    `json:"error,omitempty"`
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	dialer  *websocket.Dialer
	timeout time.Duration
	log     *slog.Logger
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		timeout: timeout,
		log:     slog.Default().With("component", "openclaw"),
	}
}

// EnsureSession creates or updates the session identified by sessionKey.
func (c *Client) EnsureSession(ctx context.Context, sessionKey string, cfg Config, label string) error {
	params := map[string]any{"key": sessionKey}
	if label != "" {
		params["label"] = label
	}
	return c.Call(ctx, cfg, methodSessionPatch, params, nil)
}

// SendMessage posts text into the session. With deliver set the gateway
// forwards it to the agent immediately.
func (c *Client) SendMessage(ctx context.Context, text, sessionKey string, cfg Config, deliver bool) error {
	params := map[string]any{
		"sessionKey":     sessionKey,
		"message":        text,
		"deliver":        deliver,
		"idempotencyKey": uuid.NewString(),
	}
	return c.Call(ctx, cfg, methodChatSend, params, nil)
}

// Call performs one RPC. When out is non-nil the response payload is decoded
// into it. Every failure is returned as a *GatewayError.
func (c *Client) Call(ctx context.Context, cfg Config, method string, params any, out any) error {
	if !cfg.Valid() {
		return &GatewayError{Method: method, Code: CodeNotConfigured, Err: errNoURL}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return &GatewayError{Method: method, Code: CodeUnavailable, Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	connectParams := map[string]any{
		"auth":   map[string]string{"token": cfg.Token},
		"client": map[string]string{"id": "mission-control", "mode": "backend"},
	}
	if _, gwErr := c.roundTrip(conn, methodConnect, connectParams); gwErr != nil {
		if gwErr.Code != CodeProtocol && gwErr.Code != CodeUnavailable {
			gwErr.Code = CodeUnauthorized
		}
		gwErr.Method = method
		gwErr.Err = fmt.Errorf("connect: %w", gwErr.Err)
		return gwErr
	}

	payload, gwErr := c.roundTrip(conn, method, params)
	if gwErr != nil {
		return gwErr
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return &GatewayError{Method: method, Code: CodeProtocol, Err: fmt.Errorf("decode payload: %w", err)}
		}
	}

	c.log.Debug("Gateway call completed", "method", method)
	return nil
}

func (c *Client) roundTrip(conn *websocket.Conn, method string, params any) (json.RawMessage, *GatewayError) {
	req := requestFrame{
		Type:   frameRequest,
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, &GatewayError{Method: method, Code: CodeUnavailable, Err: fmt.Errorf("write request: %w", err)}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, &GatewayError{Method: method, Code: CodeUnavailable, Err: fmt.Errorf("read response: %w", err)}
		}

		var res responseFrame
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, &GatewayError{Method: method, Code: CodeProtocol, Err: fmt.Errorf("decode frame: %w", err)}
		}
		if res.Type != frameResponse || res.ID != req.ID {
			continue
		}

		if !res.OK {
			remote := remoteError{Code: "error", Message: "request failed"}
			if res.Error != nil {
				remote = *res.Error
			}
			return nil, &GatewayError{Method: method, Code: remote.Code, Err: errors.New(remote.Message)}
		}
		return res.Payload, nil
	}
}
