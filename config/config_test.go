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
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("BRIDGE_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gensets/{device}/telemetry", cfg.MQTT.TelemetryTopic)
	assert.Equal(t, 30*time.Second, cfg.Commands.RestoreDelay)
	assert.Equal(t, 30, cfg.Commands.RestorePeriodicity)
	assert.Equal(t, "file", cfg.Suspension.Backend)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mqtt:
  broker: ssl://broker.example
  port: 8883
  commandTopic: site/{device}/cmd
commands:
  restoreDelay: 45s
debugUI:
  enabled: true
  devices: [gen-01, gen-02]
`), 0o644))
	t.Setenv("BRIDGE_SUSPENSION_BACKEND", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ssl://broker.example", cfg.MQTT.Broker)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "site/{device}/cmd", cfg.MQTT.CommandTopic)
	assert.Equal(t, 45*time.Second, cfg.Commands.RestoreDelay)
	assert.Equal(t, []string{"gen-01", "gen-02"}, cfg.DebugUI.Devices)
	assert.Equal(t, "redis", cfg.Suspension.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  telemetryTopic: gensets/telemetry\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
