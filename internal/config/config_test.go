package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 9000, cfg.CallbackPort)
	assert.Equal(t, 100, cfg.PollIntervalMinMs)
	assert.Equal(t, 5000, cfg.PollIntervalMaxMs)
	assert.Equal(t, 180, cfg.SubscriptionTimeoutSec)
	assert.Equal(t, "sonos", cfg.MQTTTopicPrefix)
	assert.True(t, cfg.MQTTRetain)
	assert.Empty(t, cfg.StaticPlayers)
}

func TestFileValuesAndEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "8080"
players:
  - 192.168.1.20
  - 192.168.1.21
poll:
  min_ms: 200
  max_ms: 8000
mqtt:
  broker: localhost:1883
  topic_prefix: house/sonos
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("SONOS_PLAYERS", "")
	t.Setenv("POLL_INTERVAL_MAX_MS", "10000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 8080, cfg.CallbackPort)
	assert.Equal(t, []string{"192.168.1.20", "192.168.1.21"}, cfg.StaticPlayers)
	assert.Equal(t, 200, cfg.PollIntervalMinMs)
	assert.Equal(t, 10000, cfg.PollIntervalMaxMs)
	assert.Equal(t, "localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "house/sonos", cfg.MQTTTopicPrefix)

	t.Setenv("SONOS_PLAYERS", "10.0.0.5, 10.0.0.6")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6"}, cfg.StaticPlayers)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("JWT_SECRET", "short")
	_, err := Load()
	require.Error(t, err)
	t.Setenv("JWT_SECRET", "")

	t.Setenv("POLL_INTERVAL_MIN_MS", "500")
	t.Setenv("POLL_INTERVAL_MAX_MS", "100")
	_, err = Load()
	require.Error(t, err)
	t.Setenv("POLL_INTERVAL_MAX_MS", "")

	t.Setenv("MQTT_QOS", "3")
	_, err = Load()
	require.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
