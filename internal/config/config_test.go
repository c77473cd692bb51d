package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CACHE_TTL", "bogus")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "taskchat-server", cfg.ServiceName)
}

func TestLoadClientConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, TransportSocket, cfg.Transport)
	assert.Equal(t, 10*time.Second, cfg.AckTimeout)
}

func TestLoadClientConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskchat.yaml")
	data := `
engine_url: https://engine.example.com
transport: poll
poll_interval: 1500ms
identity:
  id: u1
  name: Dana
  role: developer
roster:
  - id: u2
    name: Tess
    role: tester
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://engine.example.com", cfg.EngineURL)
	assert.Equal(t, TransportPoll, cfg.Transport)
	assert.Equal(t, 1500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout, "unset keys keep defaults")
	assert.Equal(t, "u1", cfg.Identity.ID)
	require.Len(t, cfg.Roster, 1)
	assert.Equal(t, "tester", cfg.Roster[0].Role)
}

func TestLoadClientConfig_EnvOverride(t *testing.T) {
	t.Setenv("TASKCHAT_ENGINE_URL", "http://10.0.0.5:8080")
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.EngineURL)
}

func TestClientConfig_Validate(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.EngineURL = "ftp://x"
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.Reconnect.MaxDelay = time.Millisecond
	assert.Error(t, cfg.Validate())
}
