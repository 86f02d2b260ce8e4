package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/statemachine"
)

const testConfig = `
controlbus:
  log_level: warn
objects:
  +Logger:
    Class: MessageLogger
  +Machine:
    Class: StateMachine
    +A:
      +GO:
        Class: StateMachineEvent
        NextState: B
        NextStateError: A
        +Note:
          Class: Message
          Destination: Logger
          Function: Note
          Mode: ExpectsReply
    +B:
      +BACK:
        Class: StateMachineEvent
        NextState: A
        NextStateError: B
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controlbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := parseFlags([]string{"--config", path, "--debug", "--shutdown-timeout", "3s"})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)

	_, err = parseFlags([]string{"--config", path, "--log-level", "loud"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	cfg, err = parseFlags([]string{"--version", "--config", "nowhere.yaml"})
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, "value", entry["key"])
}

func TestRun_Validate(t *testing.T) {
	path := writeConfig(t, testConfig)
	assert.NoError(t, run([]string{"--config", path, "--validate"}))

	bad := writeConfig(t, `
objects:
  +Thing:
    Class: Unknown
`)
	assert.Error(t, run([]string{"--config", bad, "--validate"}))
}

func TestApp_RunsTree(t *testing.T) {
	cfg, err := config.NewLoader().LoadFile(writeConfig(t, testConfig))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- a.run(ctx, time.Second)
	}()

	obj, ok := a.registry.Find("Machine")
	require.True(t, ok)
	sm := obj.(*statemachine.StateMachine)

	require.NoError(t, a.bus.SendMessage(ctx, message.New("Machine", "GO"), "Tester"))
	require.Eventually(t, func() bool { return sm.CurrentState() == "B" }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.health().IsHealthy())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, 0, a.registry.Len())
}
