package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/furios/sessionswitch/internal/activation"
	"github.com/furios/sessionswitch/internal/config"
	"github.com/furios/sessionswitch/internal/control"
	"github.com/furios/sessionswitch/internal/display"
	"github.com/furios/sessionswitch/internal/envset"
	"github.com/furios/sessionswitch/internal/ipc"
	"github.com/furios/sessionswitch/internal/logging"
	"github.com/furios/sessionswitch/internal/policy"
	"github.com/furios/sessionswitch/internal/sessions"
	"github.com/furios/sessionswitch/internal/switcher"
	"github.com/furios/sessionswitch/internal/units"
)

func main() {
	log.SetFlags(0)

	args, debug, noControl, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if debug {
		logging.EnableDebug()
	}

	command := "switch"
	if len(args) > 0 {
		command = normalizeCommand(args[0])
		args = args[1:]
	}

	switch command {
	case "switch":
		os.Exit(runSwitch(noControl))
	case "restore":
		if err := runRestore(); err != nil {
			log.Fatalf("%v", err)
		}
	case "status":
		if err := runStatus(); err != nil {
			log.Fatalf("%v", err)
		}
	case "sessions":
		if err := runSessions(); err != nil {
			log.Fatalf("%v", err)
		}
	case "policy":
		if err := runPolicy(args); err != nil {
			log.Fatalf("%v", err)
		}
	case "config":
		if err := runConfig(args); err != nil {
			log.Fatalf("%v", err)
		}
	default:
		log.Fatalf("unknown command: %s", command)
	}
}

// parseGlobalFlags strips flags that apply to every subcommand.
func parseGlobalFlags(args []string) (filtered []string, debug, noControl bool, err error) {
	for _, arg := range args {
		switch strings.ToLower(strings.TrimLeft(arg, "-/")) {
		case "debug":
			debug = true
		case "no-control":
			noControl = true
		default:
			filtered = append(filtered, arg)
		}
	}
	return filtered, debug, noControl, nil
}

func normalizeCommand(arg string) string {
	trimmed := strings.TrimLeft(arg, "-/")
	return strings.ToLower(trimmed)
}

// runSwitch performs the session switch and returns the process exit code.
// Restoration is owned by the switcher; by the time this returns, the default
// environment set has been republished on every path.
func runSwitch(noControl bool) int {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Signal handling is registered before any session state is mutated, so
	// an early interrupt still runs the restoration path.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := currentSession(cfg.User)
	if err != nil {
		log.Fatalf("%v", err)
	}
	logging.Debugf("switching session %s (user %s, type %s)", sess.ID, sess.User, sess.Type)

	channel, err := activation.Connect(sess.BusAddress())
	if err != nil {
		log.Printf("activation broker connection failed: %v", err)
		channel = activation.Unavailable(err)
	}
	defer channel.Close()

	var unitMgr units.Manager
	if mgr, err := units.System(); err != nil {
		log.Printf("system service manager unavailable: %v", err)
	} else {
		unitMgr = mgr
		defer mgr.Close()
	}

	baseEnv := sessionEnv(sess, cfg.Display)

	sw, err := switcher.New(switcher.Options{
		Channel: channel,
		Units:   unitMgr,
		Command: display.Command{
			Path: cfg.DisplayServer.Command,
			Args: cfg.DisplayServer.Args,
			Dir:  cfg.DisplayServer.WorkingDir,
		},
		BaseEnv:      baseEnv,
		Display:      cfg.Display,
		Legacy:       envset.Legacy(),
		Default:      envset.Default(),
		StartUnits:   cfg.StartUnits,
		StopUnits:    cfg.StopUnits,
		SocketPath:   cfg.SocketPath(),
		ReadyTimeout: time.Duration(cfg.ReadyTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to prepare switch: %v", err)
	}

	if !noControl {
		endpoint := controlEndpoint(cfg)
		server, err := control.New(endpoint, sw)
		if err != nil {
			log.Printf("control endpoint disabled: %v", err)
		} else {
			go func() {
				if err := server.Run(ctx); err != nil {
					log.Printf("control endpoint error: %v", err)
				}
			}()
		}
	}

	if err := sw.Run(ctx); err != nil {
		log.Printf("session switch failed: %v", err)
		return 1
	}
	return 0
}

func currentSession(user string) (sessions.Session, error) {
	mgr, err := sessions.NewManager()
	if err != nil {
		return sessions.Session{}, fmt.Errorf("session discovery unavailable: %w", err)
	}
	defer mgr.Close()

	sess, err := mgr.Current(user)
	if errors.Is(err, sessions.ErrNoSession) {
		return sessions.Session{}, fmt.Errorf("no active graphical session for %s; nothing to switch", user)
	}
	if err != nil {
		return sessions.Session{}, fmt.Errorf("locate session: %w", err)
	}
	return sess, nil
}

// sessionEnv assembles the environment the display server inherits: the
// switcher's own environment overlaid with the target session's variables and
// the display being created.
func sessionEnv(sess sessions.Session, displayName string) []string {
	vars := make([]envset.Variable, 0, len(sess.Env)+1)
	for name, value := range sess.Env {
		vars = append(vars, envset.Variable{Name: name, Value: value})
	}
	vars = append(vars, envset.Variable{Name: "DISPLAY", Value: displayName})
	return envset.New(vars...).Apply(os.Environ())
}

func controlEndpoint(cfg *config.Config) ipc.Endpoint {
	if cfg.ControlAddr != "" {
		return ipc.Endpoint{Network: "tcp", Address: cfg.ControlAddr}
	}
	return ipc.DefaultEndpoint()
}

func runRestore() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := control.RequestRestore(ctx, controlEndpoint(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("Restore requested (run %s, phase %s)\n", status.RunID, status.Phase)
	return nil
}

func runStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := control.Status(ctx, controlEndpoint(cfg))
	switch {
	case errors.Is(err, control.ErrNotRunning):
		fmt.Println("No session switch in progress")
	case err != nil:
		return err
	default:
		fmt.Printf("Run:     %s\n", status.RunID)
		fmt.Printf("Phase:   %s\n", status.Phase)
		if status.Display != "" {
			fmt.Printf("Display: %s\n", status.Display)
		}
		fmt.Printf("Since:   %s\n", status.Since.Format(time.RFC3339))
	}

	printUnitStates(ctx, cfg)
	return nil
}

// printUnitStates reports the display service units the way the original
// services toggle does: best effort, silent when the system bus is out of
// reach.
func printUnitStates(ctx context.Context, cfg *config.Config) {
	mgr, err := units.System()
	if err != nil {
		logging.Debugf("system service manager unavailable: %v", err)
		return
	}
	defer mgr.Close()

	seen := make(map[string]bool)
	for _, unit := range append(append([]string{}, cfg.StartUnits...), cfg.StopUnits...) {
		if seen[unit] {
			continue
		}
		seen[unit] = true
		active, err := mgr.Active(ctx, unit)
		if err != nil {
			logging.Debugf("query %s: %v", unit, err)
			continue
		}
		state := "inactive"
		if active {
			state = "active"
		}
		fmt.Printf("Unit %s: %s\n", unit, state)
	}
}

func runSessions() error {
	mgr, err := sessions.NewManager()
	if err != nil {
		return fmt.Errorf("session discovery unavailable: %w", err)
	}
	defer mgr.Close()

	list, err := mgr.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No active local sessions")
		return nil
	}

	fmt.Printf("%-6s %-12s %-8s %-10s %s\n", "ID", "User", "Type", "Display", "Runtime dir")
	for _, sess := range list {
		fmt.Printf("%-6s %-12s %-8s %-10s %s\n", sess.ID, sess.User, sess.Type, sess.Display, sess.RuntimeDir)
	}
	return nil
}

func runPolicy(args []string) error {
	fs := newFlagSet("policy")
	install := fs.Bool("install", false, "install the rules file instead of printing it")
	dir := fs.String("dir", "/etc/polkit-1/rules.d", "polkit rules directory for -install")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rule := policy.DefaultRule()
	if *install {
		path, err := rule.Install(*dir)
		if err != nil {
			return err
		}
		fmt.Printf("Installed polkit rules to %s\n", path)
		return nil
	}

	content, err := rule.Render()
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}

func runConfig(args []string) error {
	fs := newFlagSet("config")
	initialize := fs.Bool("init", false, "write the default configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := config.Path()
	if err != nil {
		return err
	}

	if *initialize {
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration file: %s\n", path)
	fmt.Printf("User:           %s\n", cfg.User)
	fmt.Printf("Display:        %s\n", cfg.Display)
	fmt.Printf("Display server: %s %s\n", cfg.DisplayServer.Command, strings.Join(cfg.DisplayServer.Args, " "))
	if len(cfg.StartUnits) > 0 {
		fmt.Printf("Start units:    %s\n", strings.Join(cfg.StartUnits, ", "))
	}
	if len(cfg.StopUnits) > 0 {
		fmt.Printf("Stop units:     %s\n", strings.Join(cfg.StopUnits, ", "))
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
