package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

const runnerYAML = `
controlbus:
  log_level: debug
  log_format: json
  metrics_port: 9090
objects:
  +Receiver:
    Class: Receiver
`

func TestLoader_LoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "controlbus.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(runnerYAML), 0644))

	cfg, err := NewLoader().LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Runtime.LogLevel)
	assert.Equal(t, "json", cfg.Runtime.LogFormat)
	assert.Equal(t, 9090, cfg.Runtime.MetricsPort)
	require.NotNil(t, cfg.Objects)

	recv, ok := cfg.Objects.Child("Receiver")
	require.True(t, ok)
	assert.Equal(t, "Receiver", recv.Class())
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load([]byte("objects: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Runtime.LogLevel)
	assert.Equal(t, "text", cfg.Runtime.LogFormat)
	assert.Zero(t, cfg.Runtime.MetricsPort)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("CONTROLBUS_LOG_LEVEL", "WARN")
	t.Setenv("CONTROLBUS_METRICS_PORT", "9100")
	t.Setenv("CONTROLBUS_NATS_URL", "nats://localhost:4222")

	cfg, err := NewLoader().Load([]byte(runnerYAML))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Runtime.LogLevel)
	assert.Equal(t, 9100, cfg.Runtime.MetricsPort)
	assert.Equal(t, "nats://localhost:4222", cfg.Runtime.NATSURL)
}

func TestLoader_BadEnvPort(t *testing.T) {
	t.Setenv("CONTROLBUS_METRICS_PORT", "ninety")

	_, err := NewLoader().Load([]byte(runnerYAML))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	objects := &Node{}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"valid", Config{Objects: objects}, nil},
		{"bad level", Config{Runtime: RuntimeConfig{LogLevel: "loud"}, Objects: objects}, errors.ErrInvalidConfig},
		{"bad format", Config{Runtime: RuntimeConfig{LogFormat: "xml"}, Objects: objects}, errors.ErrInvalidConfig},
		{"bad port", Config{Runtime: RuntimeConfig{MetricsPort: 70000}, Objects: objects}, errors.ErrInvalidConfig},
		{"export without nats", Config{Runtime: RuntimeConfig{Exported: []string{"SM"}}, Objects: objects}, errors.ErrInvalidConfig},
		{"missing objects", Config{}, errors.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFile_RejectsPaths(t *testing.T) {
	tmpDir := t.TempDir()
	txt := filepath.Join(tmpDir, "controlbus.txt")
	require.NoError(t, os.WriteFile(txt, []byte(runnerYAML), 0644))

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"wrong extension", txt},
		{"missing", filepath.Join(tmpDir, "missing.yaml")},
		{"traversal", "../../etc/passwd.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_UnsafeSourceIsInvalidConfig(t *testing.T) {
	_, err := NewLoader().LoadFile("../outside.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsafeSource)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("CONTROLBUS_NATS_URL", "nats://localhost:4222"))
	assert.ErrorIs(t, checkEnvValue("CONTROLBUS_NATS_URL", "nats\x00"), ErrUnsafeSource)
	assert.ErrorIs(t, checkEnvValue("CONTROLBUS_NATS_URL", string(make([]byte, maxEnvValue+1))), ErrUnsafeSource)
}
