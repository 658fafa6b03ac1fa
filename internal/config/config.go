package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName  = "sessionswitch"
	configFileName = "config.json"
)

// DisplayServer describes the legacy display server executable.
type DisplayServer struct {
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
}

// Config is the persisted switcher configuration.
type Config struct {
	// User is the session-owning identity whose graphical session is
	// switched.
	User string `json:"user"`
	// Display is the X display the server is asked to create.
	Display       string        `json:"display"`
	DisplayServer DisplayServer `json:"displayServer"`
	// StartUnits are started before the display server launches.
	StartUnits []string `json:"startUnits,omitempty"`
	// StopUnits are stopped during restoration.
	StopUnits []string `json:"stopUnits,omitempty"`
	// ControlAddr overrides the control endpoint address.
	ControlAddr string `json:"controlAddr,omitempty"`
	// ReadyTimeoutSeconds bounds the wait for the display server socket.
	ReadyTimeoutSeconds int `json:"readyTimeoutSeconds,omitempty"`
}

// Default returns the stock configuration for a FuriOS device.
func Default() *Config {
	return &Config{
		User:    "furios",
		Display: ":1",
		DisplayServer: DisplayServer{
			Command: "Xorg",
			Args:    []string{":1", "-keeptty", "-novtswitch", "-nolisten", "tcp"},
		},
		StartUnits: []string{"displaylink-driver.service"},
		StopUnits: []string{
			"displaylink-driver.service",
			"external-display-display-server.service",
		},
		ReadyTimeoutSeconds: 30,
	}
}

// SocketPath returns the X listening socket derived from Display, or empty
// when the display is not in the ":N" form.
func (c *Config) SocketPath() string {
	if len(c.Display) < 2 || c.Display[0] != ':' {
		return ""
	}
	return "/tmp/.X11-unix/X" + c.Display[1:]
}

// Path returns the resolved configuration file path.
func Path() (string, error) {
	if custom := os.Getenv("SESSIONSWITCH_CONFIG_PATH"); custom != "" {
		if err := os.MkdirAll(filepath.Dir(custom), 0o700); err != nil {
			return "", fmt.Errorf("ensure custom config directory: %w", err)
		}
		return custom, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine user config dir: %w", err)
	}

	dir := filepath.Join(base, configDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure config directory: %w", err)
	}

	return filepath.Join(dir, configFileName), nil
}

// Load reads the configuration, returning defaults when no file exists yet.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.User == "" {
		return nil, errors.New("config: user must not be empty")
	}
	if cfg.DisplayServer.Command == "" {
		return nil, errors.New("config: displayServer.command must not be empty")
	}
	return cfg, nil
}

// Save persists the configuration atomically.
func Save(cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path, err := Path()
	if err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return os.Rename(tempFile, path)
}
