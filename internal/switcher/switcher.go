// Package switcher moves a running session into the legacy X11 display
// configuration, supervises the display server, and restores the default
// configuration on every exit path.
package switcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/furios/sessionswitch/internal/activation"
	"github.com/furios/sessionswitch/internal/display"
	"github.com/furios/sessionswitch/internal/envset"
	"github.com/furios/sessionswitch/internal/logging"
	"github.com/furios/sessionswitch/internal/units"
)

// Phase is the switcher lifecycle state.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseActive       Phase = "active"
	PhaseCleaning     Phase = "cleaning"
	PhaseTerminated   Phase = "terminated"
)

const restoreTimeout = 10 * time.Second

// LaunchFunc starts the display server. Injectable for tests.
type LaunchFunc func(ctx context.Context, command display.Command) (display.Server, error)

// Options configure a single switch run.
type Options struct {
	Channel activation.Channel
	Units   units.Manager // optional; nil disables unit orchestration
	Launch  LaunchFunc    // defaults to display.Launch

	Command display.Command // Env is ignored; the switcher assembles it
	BaseEnv []string        // environment the display server inherits, pre-overlay
	Display string          // X display the server is asked to create, e.g. ":1"

	Legacy  envset.Set
	Default envset.Set

	// StartUnits are started best-effort before the display server launches.
	// StopUnits are stopped best-effort during restoration.
	StartUnits []string
	StopUnits  []string

	// SocketPath, when set, is polled after launch to report readiness.
	SocketPath   string
	ReadyTimeout time.Duration
}

// Status is a point-in-time snapshot of a run, served over the control
// endpoint.
type Status struct {
	RunID   string    `json:"runId"`
	Phase   Phase     `json:"phase"`
	Display string    `json:"display,omitempty"`
	Since   time.Time `json:"since"`
}

// Switcher owns one session switch. A Switcher is single-use: Run may be
// called once.
type Switcher struct {
	opts  Options
	runID string

	mu     sync.Mutex
	phase  Phase
	since  time.Time
	cancel context.CancelFunc

	restoreOnce sync.Once
}

// New prepares a switch run. The restoration invariant is owned by Run.
func New(opts Options) (*Switcher, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("missing activation channel")
	}
	if opts.Legacy.Len() == 0 || opts.Default.Len() == 0 {
		return nil, fmt.Errorf("missing environment sets")
	}
	if opts.Launch == nil {
		opts.Launch = display.Launch
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	s := &Switcher{
		opts:  opts,
		runID: uuid.NewString(),
	}
	s.setPhase(PhaseInitializing)
	return s, nil
}

// RunID identifies this switch invocation in logs and status responses.
func (s *Switcher) RunID() string {
	return s.runID
}

// Status reports the current lifecycle phase.
func (s *Switcher) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RunID:   s.runID,
		Phase:   s.phase,
		Display: s.opts.Display,
		Since:   s.since,
	}
}

// Restore requests early restoration, equivalent to delivering a termination
// signal: the wait is cancelled and the cleanup path runs on the main control
// flow.
func (s *Switcher) Restore() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Switcher) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.since = time.Now()
	s.mu.Unlock()
}

// Run publishes the legacy environment, launches the display server and
// blocks until it exits or ctx is cancelled, then restores the default
// environment. Restoration executes exactly once on every path out of Run,
// including launch failure. Callers register signal handling on ctx before
// calling Run.
func (s *Switcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// The deferred restore is the sole recovery action; every return below
	// passes through it.
	defer s.restore()

	log.Printf("switcher: entering legacy mode (run %s)", s.runID)
	logging.Debugf("legacy environment: %s", s.opts.Legacy)

	if err := s.opts.Channel.Publish(ctx, s.opts.Legacy); err != nil {
		log.Printf("switcher: legacy environment propagation failed: %v", err)
	}

	s.startUnits(ctx)

	command := s.opts.Command
	command.Env = s.opts.Legacy.Apply(s.opts.BaseEnv)

	srv, err := s.opts.Launch(ctx, command)
	if err != nil {
		return fmt.Errorf("launch display server: %w", err)
	}
	s.setPhase(PhaseActive)
	log.Printf("switcher: display server running (%s)", command.Path)

	if s.opts.SocketPath != "" {
		go func() {
			if display.WaitReady(ctx, s.opts.SocketPath, s.opts.ReadyTimeout) {
				logging.Debugf("display server socket %s ready", s.opts.SocketPath)
			} else {
				log.Printf("switcher: display server socket %s not seen within %s", s.opts.SocketPath, s.opts.ReadyTimeout)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("switcher: shutdown requested, stopping display server")
		if err := srv.Stop(); err != nil {
			log.Printf("switcher: stop display server: %v", err)
		}
		return nil
	case <-srv.Done():
		if err := srv.Err(); err != nil {
			log.Printf("switcher: display server exited: %v", err)
		} else {
			log.Printf("switcher: display server exited")
		}
		return nil
	}
}

// restore publishes the default environment set and stops the display units.
// Guarded by sync.Once so a control-endpoint request racing a signal cannot
// double-run it. It deliberately uses a fresh context: the run context is
// usually already cancelled by the time restoration starts.
func (s *Switcher) restore() {
	s.restoreOnce.Do(func() {
		s.setPhase(PhaseCleaning)
		log.Printf("switcher: restoring default session environment")

		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()

		if err := s.opts.Channel.Publish(ctx, s.opts.Default); err != nil {
			log.Printf("switcher: default environment propagation failed: %v", err)
		}
		s.stopUnits(ctx)

		s.setPhase(PhaseTerminated)
		log.Printf("switcher: cleanup complete")
	})
}

func (s *Switcher) startUnits(ctx context.Context) {
	if s.opts.Units == nil {
		return
	}
	for _, unit := range s.opts.StartUnits {
		if err := s.opts.Units.Start(ctx, unit); err != nil {
			log.Printf("switcher: start unit: %v", err)
			continue
		}
		logging.Debugf("started %s", unit)
	}
}

func (s *Switcher) stopUnits(ctx context.Context) {
	if s.opts.Units == nil {
		return
	}
	for _, unit := range s.opts.StopUnits {
		if err := s.opts.Units.Stop(ctx, unit); err != nil {
			log.Printf("switcher: stop unit: %v", err)
			continue
		}
		logging.Debugf("stopped %s", unit)
	}
}
