package openclaw

import (
	"errors"
	"fmt"
)

// Error codes assigned locally. Remote failures keep the gateway's own code.
const (
	CodeNotConfigured = "not_configured"
	CodeUnavailable   = "unavailable"
	CodeProtocol      = "protocol"
	CodeUnauthorized  = "unauthorized"
)

var errNoURL = errors.New("gateway url is empty")

// GatewayError reports any failure talking to an OpenClaw gateway.
type GatewayError struct {
	Method string
	Code   string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("openclaw %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("openclaw %s: %s: %v", e.Method, e.Code, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is or wraps a *GatewayError.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
