package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fitclub_comms/internal/infra/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ProductionWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	Init(&config.AppConfig{LogLevel: "debug", Environment: "production", LogFile: path})
	t.Cleanup(func() {
		_ = Close()
		rotating = nil
		Log.SetOutput(os.Stdout)
	})

	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	Component("scheduler").Info("tick")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "tick", last["msg"])
	assert.Equal(t, "scheduler", last["component"])
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	Init(&config.AppConfig{LogLevel: "chatty", Environment: "development"})
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
	assert.NoError(t, Close())
}
