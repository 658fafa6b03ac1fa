package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	socketName = "sessionswitch.sock"
	tokenName  = "sessionswitch.token"
)

// Endpoint describes how the running switcher exposes its control listener.
type Endpoint struct {
	Network string
	Address string
}

// DefaultEndpoint resolves the control endpoint. A unix socket in the user's
// runtime directory is preferred; SESSIONSWITCH_CONTROL_ADDR forces a TCP
// address instead.
func DefaultEndpoint() Endpoint {
	if addr := strings.TrimSpace(os.Getenv("SESSIONSWITCH_CONTROL_ADDR")); addr != "" {
		return Endpoint{Network: "tcp", Address: addr}
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return Endpoint{Network: "unix", Address: filepath.Join(runtimeDir, socketName)}
}

// TokenPath returns where the running switcher publishes its control token.
func TokenPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, tokenName)
}

// Listen binds to the configured endpoint, clearing a stale socket first.
func (e Endpoint) Listen() (net.Listener, error) {
	if e.Network == "unix" {
		_ = os.Remove(e.Address)
	}
	return net.Listen(e.Network, e.Address)
}

// DialContext establishes a client connection with sensible timeouts.
func (e Endpoint) DialContext(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: 5 * time.Second}
	return d.DialContext(ctx, e.Network, e.Address)
}

// String provides a readable representation for logs.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Network, e.Address)
}
