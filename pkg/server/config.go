package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/crossdesk/crossdesk/pkg/protocol"
	"github.com/crossdesk/crossdesk/pkg/topology"
)

// ConfigError describes a problem with a config file.
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path == "":
		return e.Message
	case e.LineNumber > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.LineNumber, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Screens   []ScreenSection  `toml:"screens"`
	Metrics   MetricsSection   `toml:"metrics"`
	WebSocket WebSocketSection `toml:"websocket"`
}

// ServerSection contains listener and timing settings
type ServerSection struct {
	Listen                  string `toml:"listen"`
	Name                    string `toml:"name"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
	KeepAliveSeconds        int    `toml:"keepalive_seconds"`
	LogLevel                string `toml:"log_level"`
}

// ScreenSection describes one screen in the layout. Position is
// relative to the server's own screen unless relative_to names another
// screen.
type ScreenSection struct {
	Name       string `toml:"name"`
	Position   string `toml:"position"`
	RelativeTo string `toml:"relative_to"`
	Width      int    `toml:"width"`
	Height     int    `toml:"height"`
}

// MetricsSection controls the status/metrics HTTP listener
type MetricsSection struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// WebSocketSection controls the WebSocket listener
type WebSocketSection struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// DefaultTOMLConfig returns the default server configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Listen:                  fmt.Sprintf(":%d", protocol.DefaultPort),
			Name:                    "primary",
			HandshakeTimeoutSeconds: 30,
			KeepAliveSeconds:        3,
			LogLevel:                "info",
		},
		Screens: []ScreenSection{
			{Name: "laptop", Position: "left", Width: 1920, Height: 1080},
		},
		Metrics: MetricsSection{
			Enabled: false,
			Listen:  ":9090",
		},
		WebSocket: WebSocketSection{
			Enabled: false,
			Listen:  ":24801",
			Path:    "/crossdesk",
		},
	}
}

// LoadConfig loads configuration from a TOML file. If the file doesn't
// exist, it creates one with defaults.
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (read-only dir?), just use defaults.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return TOMLConfig{}, &ConfigError{
				Path:       path,
				Message:    parseErr.Message,
				LineNumber: parseErr.Position.Line,
			}
		}
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}
	return config, nil
}

// writeDefaultConfig writes the default configuration to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# CrossDesk Server Configuration
# This file was auto-generated with default values.
# Edit as needed; the server reads it once at startup.
#
# Each [[screens]] entry names a client screen and where it sits.
# Position is relative to the server's screen unless relative_to
# names another screen.

`
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ServerConfig converts the file form into runtime tuning values
func (c *TOMLConfig) ServerConfig() Config {
	cfg := DefaultConfig()
	if strings.TrimSpace(c.Server.Name) != "" {
		cfg.Name = c.Server.Name
	}
	if c.Server.HandshakeTimeoutSeconds > 0 {
		cfg.HandshakeTimeout = time.Duration(c.Server.HandshakeTimeoutSeconds) * time.Second
	}
	if c.Server.KeepAliveSeconds > 0 {
		cfg.KeepAliveInterval = time.Duration(c.Server.KeepAliveSeconds) * time.Second
		cfg.KeepAliveTimeout = 3 * cfg.KeepAliveInterval
	}
	return cfg
}

// TopologyScreens builds the configured screens in file order.
func (c *TOMLConfig) TopologyScreens() ([]topology.Screen, error) {
	screens := make([]topology.Screen, 0, len(c.Screens))
	for i, sec := range c.Screens {
		if strings.TrimSpace(sec.Name) == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("screens[%d]: name is required", i)}
		}
		pos, err := topology.ParsePosition(sec.Position)
		if err != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("screens[%d] %q: %v", i, sec.Name, err)}
		}

		builder := topology.NewScreen(sec.Name).Position(pos)
		if sec.RelativeTo != "" {
			builder = builder.RelativeTo(topology.Screen{Name: sec.RelativeTo})
		}
		if sec.Width > 0 || sec.Height > 0 {
			builder = builder.Dimensions(uint16(sec.Width), uint16(sec.Height))
		}

		screen, err := builder.Build()
		if err != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("screens[%d] %q: %v", i, sec.Name, err)}
		}
		screens = append(screens, screen)
	}
	return screens, nil
}
