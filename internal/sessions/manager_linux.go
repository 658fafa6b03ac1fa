//go:build linux

package sessions

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// NewManager constructs a logind-backed session manager.
func NewManager() (Manager, error) {
	if _, err := exec.LookPath("loginctl"); err != nil {
		return nil, fmt.Errorf("loginctl not found: %w", err)
	}
	return &logindManager{runner: execRunner{}}, nil
}

type logindManager struct {
	runner commandRunner
}

func (m *logindManager) Close() error {
	return nil
}

func (m *logindManager) List() ([]Session, error) {
	sessions, err := m.enumerate(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Current returns the active local graphical session. When user is non-empty
// only that user's sessions are considered. Graphical means a wayland or x11
// session type; tty and remote sessions are skipped during enumeration.
func (m *logindManager) Current(user string) (Session, error) {
	sessions, err := m.List()
	if err != nil {
		return Session{}, err
	}
	for _, sess := range sessions {
		if user != "" && sess.User != user {
			continue
		}
		if sess.Type != "wayland" && sess.Type != "x11" {
			continue
		}
		return sess, nil
	}
	return Session{}, ErrNoSession
}

func (m *logindManager) enumerate(ctx context.Context) (map[string]Session, error) {
	raw, err := m.runner.CombinedOutput(ctx, "loginctl", "list-sessions", "--no-legend")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make(map[string]Session)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id := fields[0]
		props, err := m.sessionProperties(ctx, id)
		if err != nil {
			log.Printf("logind: session %s properties error: %v", id, err)
			continue
		}
		if !strings.EqualFold(props["Active"], "yes") {
			continue
		}
		if strings.EqualFold(props["Remote"], "yes") {
			continue
		}
		uid, err := strconv.ParseUint(props["UID"], 10, 32)
		if err != nil {
			continue
		}
		gid, err := strconv.ParseUint(props["GID"], 10, 32)
		if err != nil {
			continue
		}
		runtimeDir := props["RuntimePath"]
		if runtimeDir == "" {
			runtimeDir = fmt.Sprintf("/run/user/%s", props["UID"])
		}
		env := map[string]string{
			"XDG_RUNTIME_DIR":          runtimeDir,
			"DBUS_SESSION_BUS_ADDRESS": fmt.Sprintf("unix:path=%s/bus", runtimeDir),
		}
		if display := props["Display"]; display != "" {
			env["DISPLAY"] = display
		}
		sessions[id] = Session{
			ID:         id,
			User:       props["Name"],
			UID:        uint32(uid),
			GID:        uint32(gid),
			RuntimeDir: runtimeDir,
			Display:    env["DISPLAY"],
			Type:       props["Type"],
			Env:        env,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m *logindManager) sessionProperties(ctx context.Context, id string) (map[string]string, error) {
	raw, err := m.runner.CombinedOutput(ctx, "loginctl", "show-session", id, "-p", "Name", "-p", "UID", "-p", "GID", "-p", "Display", "-p", "Remote", "-p", "Active", "-p", "Type", "-p", "RuntimePath")
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		props[parts[0]] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if props["Name"] == "" {
		return nil, errors.New("session name missing")
	}
	return props, nil
}
