package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log := New(Options{Level: "warn", File: DefaultFileConfig(path)})
	log.Info("hidden")
	log.Warn("shown", zap.Int("bricks", 3))
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, float64(3), rec["bricks"])
}

func TestNoOutputIsNop(t *testing.T) {
	log := New(Options{})
	require.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}
