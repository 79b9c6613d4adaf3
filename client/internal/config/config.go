// Package config loads the client settings file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultServerURL     = "http://localhost:8090"
	defaultRealtimeModel = "gpt-realtime"
	defaultVoice         = "alloy"
	defaultToolTimeout   = 10 * time.Second
)

// Config is the content of config.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Realtime RealtimeConfig `toml:"realtime"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig addresses the task platform.
type ServerConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// RealtimeConfig configures the voice channel. An empty URL means the
// platform's own /realtime endpoint.
type RealtimeConfig struct {
	URL   string `toml:"url"`
	Model string `toml:"model"`
	Voice string `toml:"voice"`
}

// SandboxConfig selects where the fake server runs tool calls: a docker
// container when Container is set, otherwise the local directory Dir.
type SandboxConfig struct {
	Dir       string `toml:"dir"`
	Container string `toml:"container"`
	Timeout   string `toml:"timeout"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		Server:   ServerConfig{URL: defaultServerURL},
		Realtime: RealtimeConfig{Model: defaultRealtimeModel, Voice: defaultVoice},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Path returns $XDG_CONFIG_HOME/fleet/config.toml, falling back to
// ~/.config/fleet/config.toml.
func Path() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "fleet", "config.toml"), nil
}

// Load reads the file at path over the defaults. An empty path means Path().
// A missing file is not an error. FLEET_TOKEN overrides the server token.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	cfg := Default()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	if tok := os.Getenv("FLEET_TOKEN"); tok != "" {
		cfg.Server.Token = tok
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

// ServerURL returns the platform base URL without a trailing slash.
func (c Config) ServerURL() string {
	u := strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	if u == "" {
		return defaultServerURL
	}
	return u
}

// RealtimeURL returns the websocket URL of the voice channel.
func (c Config) RealtimeURL() string {
	if u := strings.TrimSpace(c.Realtime.URL); u != "" {
		return u
	}
	u := c.ServerURL()
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime"
}

func (c Config) Voice() string {
	if v := strings.TrimSpace(c.Realtime.Voice); v != "" {
		return v
	}
	return defaultVoice
}

func (c Config) RealtimeModel() string {
	if m := strings.TrimSpace(c.Realtime.Model); m != "" {
		return m
	}
	return defaultRealtimeModel
}

// ToolTimeout parses the sandbox timeout, "10s" by default.
func (c Config) ToolTimeout() (time.Duration, error) {
	s := strings.TrimSpace(c.Sandbox.Timeout)
	if s == "" {
		return defaultToolTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("sandbox timeout must be positive")
	}
	return d, nil
}

func (c Config) LogLevel() string {
	if l := strings.TrimSpace(c.Logging.Level); l != "" {
		return l
	}
	return "info"
}
