package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskboard/taskchat/internal/domain"
)

const (
	// ClientConfigFile is looked up in the working directory when no path is
	// given on the command line.
	ClientConfigFile = "taskchat.yaml"

	TransportPoll   = "poll"
	TransportSocket = "socket"
)

// ClientConfig configures the chat client.
type ClientConfig struct {
	// EngineURL is the single base endpoint for REST and websocket traffic.
	EngineURL string `yaml:"engine_url"`
	// Transport selects the strategy for persisted chats: poll or socket.
	Transport      string          `yaml:"transport"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	AckTimeout     time.Duration   `yaml:"ack_timeout"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
	// CacheDir holds the local fallback store.
	CacheDir string               `yaml:"cache_dir"`
	Identity domain.Participant   `yaml:"identity"`
	Roster   []domain.Participant `yaml:"roster"`
}

// ReconnectConfig is the socket reconnect backoff.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

func DefaultClientConfig() *ClientConfig {
	cacheDir := ".taskchat"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".cache", "taskchat")
	}
	return &ClientConfig{
		EngineURL:      "http://localhost:8080",
		Transport:      TransportSocket,
		PollInterval:   3 * time.Second,
		RequestTimeout: 5 * time.Second,
		AckTimeout:     10 * time.Second,
		Reconnect: ReconnectConfig{
			BaseDelay:  500 * time.Millisecond,
			Multiplier: 2,
			MaxDelay:   15 * time.Second,
		},
		CacheDir: cacheDir,
	}
}

// LoadClientConfig reads path on top of the defaults. A missing file is not
// an error; the defaults are returned. TASKCHAT_ENGINE_URL overrides the
// file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		path = ClientConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("TASKCHAT_ENGINE_URL"); v != "" {
		cfg.EngineURL = v
	}
	return cfg, cfg.Validate()
}

func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.EngineURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("engine_url must be an http(s) URL, got %q", c.EngineURL)
	}
	if c.Transport != TransportPoll && c.Transport != TransportSocket {
		return fmt.Errorf("transport must be %q or %q, got %q", TransportPoll, TransportSocket, c.Transport)
	}
	if c.PollInterval <= 0 || c.RequestTimeout <= 0 || c.AckTimeout <= 0 {
		return fmt.Errorf("poll_interval, request_timeout and ack_timeout must be positive")
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay || c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect backoff is invalid")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	return nil
}
