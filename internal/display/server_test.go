//go:build unix

package display

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLaunchMissingBinary(t *testing.T) {
	_, err := Launch(context.Background(), Command{
		Path: filepath.Join(t.TempDir(), "no-such-display-server"),
	})
	if err == nil {
		t.Fatalf("expected launch error for missing binary")
	}
}

func TestLaunchEmptyPath(t *testing.T) {
	if _, err := Launch(context.Background(), Command{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestServerReportsExit(t *testing.T) {
	srv, err := Launch(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
	if err := srv.Err(); err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}
}

func TestStopTerminatesRunningProcess(t *testing.T) {
	srv, err := Launch(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "sleep 60"}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not stop")
	}
	if srv.Err() == nil {
		t.Fatalf("expected signal exit error")
	}
}

func TestCancelRunsTermHandlerBeforeKill(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	marker := filepath.Join(dir, "marker")
	// The child traps TERM the way a display server does for VT cleanup. A
	// graceful shutdown must let that handler run; an immediate SIGKILL on
	// context cancellation would leave the marker unwritten.
	script := `trap ': > ` + marker + `; exit 0' TERM; : > ` + ready + `; sleep 60 & wait $!`

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := Launch(ctx, Command{Path: "/bin/sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !WaitReady(context.Background(), ready, 5*time.Second) {
		t.Fatalf("child never reported ready")
	}

	cancel()
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-srv.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("process did not exit after cancellation")
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("TERM handler did not run before the process died: %v", err)
	}
}

func TestWaitReady(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, "X1")

	if WaitReady(context.Background(), socket, 100*time.Millisecond) {
		t.Fatalf("WaitReady reported a missing socket as present")
	}

	if err := os.WriteFile(socket, nil, 0o600); err != nil {
		t.Fatalf("write socket placeholder: %v", err)
	}
	if !WaitReady(context.Background(), socket, time.Second) {
		t.Fatalf("WaitReady missed an existing socket")
	}
}
