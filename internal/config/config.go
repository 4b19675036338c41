// Package config provides configuration management for the roomrecorder application
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config represents the main application configuration
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig `json:"http"`

	// Recording configuration
	Recording RecordingConfig `json:"recording"`

	// Signalling backend selection and endpoints
	Signalling SignallingConfig `json:"signalling"`

	// Encoder profile defaults
	Encoder EncoderConfig `json:"encoder"`

	// UDP port pool range used for RTP forwarding
	PortPool PortPoolConfig `json:"port_pool"`

	// Upload endpoint configuration
	Upload UploadConfig `json:"upload"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RecordingConfig contains recording-specific settings
type RecordingConfig struct {
	// Directory is the recordings root. Empty means platform default
	// (~/recordings on POSIX, %USERPROFILE%\recordings on Windows).
	Directory string `json:"directory"`
}

// SignallingConfig selects and configures the upstream media-server adapter.
type SignallingConfig struct {
	// Variant is either "httpapi" or "janus". Resolved at startup; the Room
	// Manager binds to the signalling.Adapter interface, not to a variant.
	Variant string `json:"variant"`

	// BaseURL is the request/response backend's base URL (httpapi variant).
	BaseURL string `json:"base_url,omitempty"`

	// WebSocketURL is the event-stream backend's endpoint (janus variant).
	WebSocketURL string `json:"websocket_url,omitempty"`

	// KeepaliveInterval is the event-stream keepalive cadence.
	KeepaliveInterval time.Duration `json:"keepalive_interval"`

	// HandshakeBackoff is validated and saved with the config but not read
	// elsewhere; configure() retries the handshake on a fixed 3-second
	// backoff.
	HandshakeBackoff time.Duration `json:"handshake_backoff"`

	// HandshakeTimeout is the HTTP client timeout of the httpapi variant.
	// It does not bound configure()'s handshake retries, which stop after a
	// fixed 30 seconds.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

// EncoderConfig contains defaults for encoder profile selection.
type EncoderConfig struct {
	// BinaryPath is the ffmpeg executable used to spawn encoder children.
	BinaryPath string `json:"binary_path"`
	// ProbePath is the ffprobe executable used to inspect output artifacts.
	ProbePath string `json:"probe_path"`
	// StopGrace is how long Stop waits for a clean exit before escalating.
	StopGrace time.Duration `json:"stop_grace"`
	// ExpectedOutputTimeout bounds how long the Post-Processor waits for an
	// expected output file to materialize before declaring failure.
	ExpectedOutputTimeout time.Duration `json:"expected_output_timeout"`
}

// PortPoolConfig bounds the UDP port range handed out for RTP forwarding.
type PortPoolConfig struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// UploadConfig contains defaults for the remote classroom upload protocol.
type UploadConfig struct {
	// RequestTimeout is the HTTP client timeout used for every upload step.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         "9002",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Recording: RecordingConfig{
			Directory: "",
		},
		Signalling: SignallingConfig{
			Variant:           "httpapi",
			BaseURL:           "http://127.0.0.1:8088/janus",
			KeepaliveInterval: 30 * time.Second,
			HandshakeBackoff:  3 * time.Second,
			HandshakeTimeout:  30 * time.Second,
		},
		Encoder: EncoderConfig{
			BinaryPath:            "ffmpeg",
			ProbePath:             "ffprobe",
			StopGrace:             2 * time.Second,
			ExpectedOutputTimeout: 20 * time.Second,
		},
		PortPool: PortPoolConfig{
			Min: 20001,
			Max: 50000,
		},
		Upload: UploadConfig{
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a file, falling back to defaults if the file doesn't exist
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	// If file doesn't exist, return defaults
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("HTTP port cannot be empty")
	}

	switch c.Signalling.Variant {
	case "httpapi", "janus":
	default:
		return fmt.Errorf("signalling variant must be httpapi or janus, got %q", c.Signalling.Variant)
	}
	if c.Signalling.Variant == "janus" && c.Signalling.WebSocketURL == "" {
		return fmt.Errorf("signalling.websocket_url is required for the janus variant")
	}
	if c.Signalling.Variant == "httpapi" && c.Signalling.BaseURL == "" {
		return fmt.Errorf("signalling.base_url is required for the httpapi variant")
	}

	if c.Encoder.BinaryPath == "" {
		return fmt.Errorf("encoder binary path cannot be empty")
	}
	if c.Encoder.StopGrace <= 0 {
		return fmt.Errorf("encoder stop grace must be positive")
	}

	if c.PortPool.Min <= 0 || c.PortPool.Max <= c.PortPool.Min {
		return fmt.Errorf("port_pool range must satisfy 0 < min < max")
	}
	if c.PortPool.Max > 65535 {
		return fmt.Errorf("port_pool max must be <= 65535")
	}

	return nil
}

// Watch starts an fsnotify watcher on filename and invokes onChange with the
// reloaded configuration whenever the file is rewritten. It returns a stop
// function. A reload that fails to read, parse or validate, and any watcher
// error, is passed to onChange as a nil config with a non-nil error.
func Watch(filename string, onChange func(*Config, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %v", err)
	}
	if err := watcher.Add(filename); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %v", err)
	}

	var once sync.Once
	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := LoadConfig(filename)
				onChange(cfg, loadErr)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(nil, watchErr)
			case <-done:
				return
			}
		}
	}()

	return func() error {
		once.Do(func() { close(done) })
		return watcher.Close()
	}, nil
}
