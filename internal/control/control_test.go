package control

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/furios/sessionswitch/internal/display"
	"github.com/furios/sessionswitch/internal/envset"
	"github.com/furios/sessionswitch/internal/ipc"
	"github.com/furios/sessionswitch/internal/protocol"
	"github.com/furios/sessionswitch/internal/switcher"
)

type nullChannel struct{}

func (nullChannel) Publish(ctx context.Context, set envset.Set) error { return nil }
func (nullChannel) Close() error                                      { return nil }

type fakeServer struct {
	once sync.Once
	done chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{done: make(chan struct{})}
}

func (s *fakeServer) Done() <-chan struct{} { return s.done }
func (s *fakeServer) Err() error            { return nil }
func (s *fakeServer) Stop() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func newRunningSwitcher(t *testing.T) (*switcher.Switcher, *fakeServer, chan error) {
	t.Helper()
	srv := newFakeServer()
	s, err := switcher.New(switcher.Options{
		Channel: nullChannel{},
		Launch: func(ctx context.Context, command display.Command) (display.Server, error) {
			return srv, nil
		},
		Command: display.Command{Path: "/usr/bin/Xorg"},
		Display: ":1",
		Legacy:  envset.Legacy(),
		Default: envset.Default(),
	})
	if err != nil {
		t.Fatalf("switcher.New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitFor(t, func() bool { return s.Status().Phase == switcher.PhaseActive })
	return s, srv, done
}

func startControl(t *testing.T, s *switcher.Switcher) (ipc.Endpoint, context.CancelFunc) {
	t.Helper()
	endpoint := ipc.DefaultEndpoint()
	server, err := New(endpoint, s)
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := server.Run(ctx); err != nil {
			t.Errorf("control server: %v", err)
		}
	}()
	waitFor(t, func() bool {
		if _, err := os.Stat(ipc.TokenPath()); err != nil {
			return false
		}
		conn, err := endpoint.DialContext(context.Background())
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
	return endpoint, cancel
}

func TestStatusRoundTrip(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("SESSIONSWITCH_CONTROL_TOKEN", "")

	sw, srv, done := newRunningSwitcher(t)
	endpoint, stop := startControl(t, sw)
	defer stop()

	status, err := Status(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Phase != switcher.PhaseActive {
		t.Fatalf("phase = %s, want %s", status.Phase, switcher.PhaseActive)
	}
	if status.RunID != sw.RunID() {
		t.Fatalf("run id mismatch: %s vs %s", status.RunID, sw.RunID())
	}
	if status.Display != ":1" {
		t.Fatalf("display = %q", status.Display)
	}

	srv.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRestoreCommandEndsRun(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("SESSIONSWITCH_CONTROL_TOKEN", "")

	sw, _, done := newRunningSwitcher(t)
	endpoint, stop := startControl(t, sw)
	defer stop()

	if _, err := RequestRestore(context.Background(), endpoint); err != nil {
		t.Fatalf("RequestRestore: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("switcher did not end after restore request")
	}
	if sw.Status().Phase != switcher.PhaseTerminated {
		t.Fatalf("phase = %s, want %s", sw.Status().Phase, switcher.PhaseTerminated)
	}
}

func TestBadTokenRejected(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("SESSIONSWITCH_CONTROL_TOKEN", "")

	sw, srv, done := newRunningSwitcher(t)
	endpoint, stop := startControl(t, sw)
	defer stop()

	conn, err := endpoint.DialContext(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(protocol.Request{Token: "wrong", Command: protocol.CommandStatusGet}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "unauthorized" {
		t.Fatalf("expected unauthorized, got %+v", resp)
	}

	srv.Stop()
	<-done
}

func TestStatusWithoutServer(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("SESSIONSWITCH_CONTROL_TOKEN", "irrelevant")

	if _, err := Status(context.Background(), ipc.DefaultEndpoint()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
