package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	t.Setenv(STORAGE, "")
	t.Setenv(REDIS_DB, "")
	t.Setenv(STRICT_KINDS, "")

	assert.Equal(t, STORAGE_MEMORY, GetSystemSettingString(STORAGE))
	assert.Equal(t, "localhost:6379", GetSystemSettingString(REDIS_ADDR))
	assert.Equal(t, 0, GetSystemSettingInteger(REDIS_DB))
	assert.False(t, GetSystemSettingBool(STRICT_KINDS))
	assert.Equal(t, "720h", GetSystemSettingString(EXECUTION_RETENTION))
	assert.Equal(t, "", GetSystemSettingString("TRANSITION_UNKNOWN"))
	assert.Equal(t, 0, GetSystemSettingInteger("TRANSITION_UNKNOWN"))
}

func TestOverrides(t *testing.T) {
	t.Setenv(STORAGE, STORAGE_SQLITE)
	t.Setenv(REDIS_DB, "3")
	t.Setenv(STRICT_KINDS, "true")

	assert.Equal(t, STORAGE_SQLITE, GetSystemSettingString(STORAGE))
	assert.Equal(t, 3, GetSystemSettingInteger(REDIS_DB))
	assert.True(t, GetSystemSettingBool(STRICT_KINDS))
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for val, want := range tests {
		t.Setenv(LOG_LEVEL, val)
		assert.Equal(t, want, LogLevel(), val)
	}
}
