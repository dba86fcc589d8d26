package client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.Server != "127.0.0.1:24800" {
		t.Errorf("expected the default server address, got %s", cfg.Client.Server)
	}
	if cfg.Client.Name == "" {
		t.Error("expected a default screen name")
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Client.MaxRetries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected the default config to be written: %v", err)
	}
	if !strings.Contains(string(data), "# CrossDesk Client Configuration") {
		t.Error("expected the generated file to carry the header comment")
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to reload the generated config: %v", err)
	}
	if reloaded != cfg {
		t.Errorf("generated config did not round-trip: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := `[client]
server = "desk.local:25800"
name = "laptop"
width = 2560
height = 1440
connect_timeout_seconds = 10
max_retries = 5
retry_delay_seconds = 2
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.Server != "desk.local:25800" {
		t.Errorf("unexpected server %s", cfg.Client.Server)
	}
	if cfg.Client.Name != "laptop" {
		t.Errorf("unexpected name %s", cfg.Client.Name)
	}

	cc := cfg.ClientConfig()
	if cc.ConnectTimeout != 10*time.Second {
		t.Errorf("expected a 10s connect timeout, got %s", cc.ConnectTimeout)
	}
	if cc.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cc.MaxRetries)
	}
	if cc.RetryDelay != 2*time.Second {
		t.Errorf("expected a 2s retry delay, got %s", cc.RetryDelay)
	}

	info := cfg.ScreenInfo()
	if info.Width != 2560 || info.Height != 1440 {
		t.Errorf("expected 2560x1440, got %dx%d", info.Width, info.Height)
	}
}

func TestLoadConfigReportsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := "[client]\nserver = :bad\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := LoadConfig(path)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.LineNumber != 2 {
		t.Errorf("expected line 2, got %d", cfgErr.LineNumber)
	}
	if !strings.Contains(cfgErr.Error(), "line 2") {
		t.Errorf("expected the message to name the line, got %q", cfgErr.Error())
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := `[client]
server = "a:b:c"
name = "laptop"
max_retries = -1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := LoadConfig(path)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.LineNumber != 0 {
		t.Errorf("validation errors carry no line number, got %d", cfgErr.LineNumber)
	}
	if !strings.Contains(cfgErr.Error(), "retries") {
		t.Errorf("expected the message to name the bad field, got %q", cfgErr.Error())
	}
}
