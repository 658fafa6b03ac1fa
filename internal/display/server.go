// Package display launches and supervises the legacy display server as a
// foreground child process.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

const stopGrace = 5 * time.Second

// Command describes the display server executable and the environment it
// inherits. Env is the complete child environment; the caller assembles it so
// there is no implicit dependency on process-wide globals.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Server is a handle to a running display server process.
type Server interface {
	Done() <-chan struct{}
	Err() error
	Stop() error
}

type execServer struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Launch starts the display server in the foreground. The process runs in its
// own process group so that Stop can take down anything it forked. If the
// supervising process dies without running Stop, the group is orphaned;
// cleaning that up is left to the service manager.
func Launch(ctx context.Context, command Command) (Server, error) {
	if command.Path == "" {
		return nil, errors.New("missing display server path")
	}

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)
	// Context cancellation must follow the same graceful path as Stop: SIGTERM
	// to the group first, hard kill only after the grace period. Without this
	// the default cancel handler SIGKILLs the leader immediately and the
	// server's TERM handler never runs.
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = stopGrace

	srv := &execServer{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start display server: %w", err)
	}

	go srv.wait()
	return srv, nil
}

func (s *execServer) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *execServer) Done() <-chan struct{} {
	return s.done
}

func (s *execServer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop terminates the display server's process group, escalating to a hard
// kill if it does not exit within the grace period.
func (s *execServer) Stop() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := terminateGroup(s.cmd); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(stopGrace):
		return killGroup(s.cmd)
	}
}

// WaitReady polls until path exists, which signals the display server has
// created its listening socket. A false return means the timeout elapsed; the
// server may still come up later, so callers treat this as advisory.
func WaitReady(ctx context.Context, path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}
