package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/crossdesk/crossdesk/pkg/protocol"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Client ClientSection `toml:"client"`
}

type ClientSection struct {
	Server                string `toml:"server"`
	Name                  string `toml:"name"`
	Width                 int    `toml:"width"`
	Height                int    `toml:"height"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
	RetryDelaySeconds     int    `toml:"retry_delay_seconds"`
	LogLevel              string `toml:"log_level"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// DefaultTOMLConfig returns the default TOML configuration. The
// screen name defaults to the machine's hostname.
func DefaultTOMLConfig() TOMLConfig {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "screen"
	}
	return TOMLConfig{
		Client: ClientSection{
			Server:                fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort),
			Name:                  name,
			Width:                 1920,
			Height:                1080,
			ConnectTimeoutSeconds: 30,
			MaxRetries:            3,
			RetryDelaySeconds:     1,
			LogLevel:              "info",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default
// one when the file does not exist.
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

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}
	return config, nil
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var problems []string

	if strings.TrimSpace(config.Client.Server) == "" {
		problems = append(problems, "Server address cannot be empty")
	} else if _, err := parseServerAddr(config.Client.Server); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(config.Client.Name) == "" {
		problems = append(problems, "Screen name cannot be empty")
	}
	if config.Client.Width < 0 || config.Client.Height < 0 {
		problems = append(problems, "Screen dimensions cannot be negative")
	}
	if config.Client.ConnectTimeoutSeconds < 0 {
		problems = append(problems, "Connect timeout cannot be negative")
	}
	if config.Client.MaxRetries < 0 {
		problems = append(problems, "Max retries cannot be negative")
	}
	if config.Client.RetryDelaySeconds < 0 {
		problems = append(problems, "Retry delay cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// writeDefaultConfig writes the default config to a file
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

	header := `# CrossDesk Client Configuration
# This file was auto-generated with default values.
# Edit as needed; it will not be overwritten.

`
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ClientConfig converts the file representation into client tuning
// parameters, leaving unset values to the defaults.
func (c TOMLConfig) ClientConfig() Config {
	cfg := DefaultConfig()
	if c.Client.ConnectTimeoutSeconds > 0 {
		cfg.ConnectTimeout = time.Duration(c.Client.ConnectTimeoutSeconds) * time.Second
	}
	if c.Client.MaxRetries > 0 {
		cfg.MaxRetries = c.Client.MaxRetries
	}
	if c.Client.RetryDelaySeconds > 0 {
		cfg.RetryDelay = time.Duration(c.Client.RetryDelaySeconds) * time.Second
	}
	return cfg
}

// ScreenInfo converts the configured geometry into the wire form
// reported to the server.
func (c TOMLConfig) ScreenInfo() protocol.ClientInfo {
	return protocol.ClientInfo{
		Width:  uint16(c.Client.Width),
		Height: uint16(c.Client.Height),
	}
}
