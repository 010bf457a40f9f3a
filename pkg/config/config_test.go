package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yamlData := `
mqtt_broker: broker.internal
workers: 4
reconnect_backoff: 2s
frame_format: cbor
camera_fps: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	t.Setenv("MOCK_SERIAL", "SERIAL123")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("AGENT_WORKERS", "6")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.internal", cfg.MQTTBroker)
	assert.Equal(t, "8883", cfg.MQTTPort)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, "cbor", cfg.FrameFormat)
	assert.Equal(t, 10, cfg.CameraFPS)
	assert.Equal(t, 15, cfg.ScreenFPS)
	assert.Equal(t, "SERIAL123", cfg.DeviceID)
	assert.Equal(t, "agent_SERIAL123", cfg.ClientID)
	assert.Equal(t, "tcp://broker.internal:8883", cfg.BrokerURL())
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("MOCK_SERIAL", "S")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nMQTT_BROKER=\"10.0.0.2\"\nMQTT_USERNAME='dev'\nAGENT_QUEUE_SIZE=32\nbroken line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := Default()
	require.NoError(t, loadFromEnvFile(cfg, path))
	assert.Equal(t, "10.0.0.2", cfg.MQTTBroker)
	assert.Equal(t, "dev", cfg.MQTTUsername)
	assert.Equal(t, 32, cfg.QueueSize)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.FrameFormat = "xml"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend = "ios"
	assert.Error(t, cfg.Validate())
}
