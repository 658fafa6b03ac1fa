package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/furios/sessionswitch/internal/ipc"
	"github.com/furios/sessionswitch/internal/protocol"
	"github.com/furios/sessionswitch/internal/switcher"
)

// ErrNotRunning indicates no switcher control endpoint answered.
var ErrNotRunning = errors.New("no session switch in progress")

// Status queries the running switcher for its current phase.
func Status(ctx context.Context, endpoint ipc.Endpoint) (*switcher.Status, error) {
	resp, err := roundTrip(ctx, endpoint, protocol.CommandStatusGet)
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// RequestRestore asks the running switcher to restore the default session
// configuration and exit.
func RequestRestore(ctx context.Context, endpoint ipc.Endpoint) (*switcher.Status, error) {
	resp, err := roundTrip(ctx, endpoint, protocol.CommandRestore)
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}

func roundTrip(ctx context.Context, endpoint ipc.Endpoint, command string) (*protocol.Response, error) {
	token, err := clientToken()
	if err != nil {
		return nil, err
	}

	conn, err := endpoint.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(protocol.Request{Token: token, Command: command}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func clientToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv("SESSIONSWITCH_CONTROL_TOKEN")); token != "" {
		return token, nil
	}
	path := ipc.TokenPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read control token: %v", ErrNotRunning, err)
	}
	return strings.TrimSpace(string(raw)), nil
}
