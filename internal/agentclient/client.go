// Package agentclient is the agent side of the heartbeat protocol: it
// registers an agent with Mission Control and keeps it online.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
)

const (
	agentTokenHeader = "X-Agent-Token"
	apiKeyHeader     = "X-API-Key"

	DefaultInterval = time.Minute
)

// ErrUnauthorized means the server rejected the agent token.
var ErrUnauthorized = errors.New("agent token rejected")

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Register creates the agent by name if needed and issues it a fresh token.
// Any previously issued token stops working.
func (c *Client) Register(ctx context.Context, apiKey, name string) (*dto.AgentTokenResponse, error) {
	var agent dto.AgentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/agents/heartbeat", dto.HeartbeatCreateRequest{Name: name},
		map[string]string{apiKeyHeader: apiKey}, &agent)
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	var issued dto.AgentTokenResponse
	err = c.do(ctx, http.MethodPost, "/api/v1/agents/"+agent.ID+"/token", nil,
		map[string]string{apiKeyHeader: apiKey}, &issued)
	if err != nil {
		return nil, fmt.Errorf("failed to issue agent token: %w", err)
	}
	return &issued, nil
}

func (c *Client) Heartbeat(ctx context.Context, token, status string) (*dto.AgentResponse, error) {
	var agent dto.AgentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/agent/heartbeat", dto.HeartbeatRequest{Status: status},
		map[string]string{agentTokenHeader: token}, &agent)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Run sends a heartbeat immediately and then every interval until ctx is
// cancelled. Transient failures are logged and retried on the next tick; a
// rejected token stops the loop.
func (c *Client) Run(ctx context.Context, token, status string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		agent, err := c.Heartbeat(ctx, token, status)
		switch {
		case errors.Is(err, ErrUnauthorized):
			return err
		case err != nil:
			slog.Warn("Heartbeat failed", "error", err)
		default:
			slog.Debug("Heartbeat sent", "agent_id", agent.ID, "status", agent.Status)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && headers[agentTokenHeader] != "" {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
