package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != "9002" {
		t.Fatalf("expected default port 9002, got %s", cfg.HTTP.Port)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.HTTP.Port = "9100"
	cfg.Signalling.Variant = "janus"
	cfg.Signalling.WebSocketURL = "ws://localhost:8188/janus"

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.HTTP.Port != "9100" {
		t.Fatalf("expected port 9100, got %s", loaded.HTTP.Port)
	}
	if loaded.Signalling.Variant != "janus" {
		t.Fatalf("expected janus variant, got %s", loaded.Signalling.Variant)
	}
}

func TestValidateRejectsBadSignallingVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signalling.Variant = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown signalling variant")
	}
}

func TestValidateRequiresJanusWebSocketURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signalling.Variant = "janus"
	cfg.Signalling.WebSocketURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing websocket url")
	}
}

func TestValidateRejectsBadPortPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortPool.Min = 100
	cfg.PortPool.Max = 50
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for inverted port pool range")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, func(c *Config, err error) {
		if err == nil {
			reloaded <- c
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	cfg.HTTP.Port = "9200"
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	select {
	case c := <-reloaded:
		if c.HTTP.Port != "9200" {
			t.Fatalf("expected reloaded port 9200, got %s", c.HTTP.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
