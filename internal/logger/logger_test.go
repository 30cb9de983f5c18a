package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	tests := []struct {
		name    string
		level   string
		enabled []Level
		muted   []Level
	}{
		{"debug", "debug", []Level{LevelDebug, LevelInfo, LevelError}, nil},
		{"info", "INFO", []Level{LevelInfo, LevelWarn}, []Level{LevelDebug}},
		{"warn", "Warn", []Level{LevelWarn, LevelError}, []Level{LevelDebug, LevelInfo}},
		{"error", "ERROR", []Level{LevelError}, []Level{LevelWarn}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLevel(tt.level)
			for _, l := range tt.enabled {
				assert.True(t, Enabled(l), "%s should be enabled", l)
			}
			for _, l := range tt.muted {
				assert.False(t, Enabled(l), "%s should be muted", l)
			}
		})
	}
}

func TestSetLevel_UnknownIgnored(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("WARN")
	SetLevel("verbose")
	assert.True(t, Enabled(LevelWarn))
	assert.False(t, Enabled(LevelInfo))
}

func TestConfigure_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mover.log")
	require.NoError(t, Configure(Config{Level: "DEBUG", Format: "json", Output: path}))
	defer func() {
		_ = Configure(Config{Level: "INFO", Format: "text", Output: "stdout"})
	}()

	Debug("moved %d items", 3)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "moved 3 items", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigure_BadPath(t *testing.T) {
	err := Configure(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
