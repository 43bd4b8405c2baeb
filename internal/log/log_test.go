package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
)

func TestInit_JSONConsole(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "debug", Format: "json", Output: "console"}))
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	With(logrus.Fields{"worker": 3, "role": "client"}).Debug("worker started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker started", entry["msg"])
	assert.Equal(t, "client", entry["role"])
	assert.EqualValues(t, 3, entry["worker"])
	assert.Equal(t, logrus.DebugLevel, L().GetLevel())
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "chatty"}))
	assert.Equal(t, logrus.InfoLevel, L().GetLevel())
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "copyperf.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "info", Output: "file", FilePath: path}))
	t.Cleanup(func() { SetOutput(os.Stderr) })

	L().Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
