package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const STORAGE = "TRANSITION_STORAGE"
const REDIS_ADDR = "TRANSITION_REDIS_ADDR"
const REDIS_PASSWORD = "TRANSITION_REDIS_PASSWORD"
const REDIS_DB = "TRANSITION_REDIS_DB"
const SQLITE_PATH = "TRANSITION_SQLITE_PATH"
const STRICT_KINDS = "TRANSITION_STRICT_KINDS" //unknown condition/validator kinds fail instead of passing
const LOG_LEVEL = "TRANSITION_LOG_LEVEL"
const EXECUTION_RETENTION = "TRANSITION_EXECUTION_RETENTION" //how long execution records are kept by prune

const STORAGE_MEMORY = "memory"
const STORAGE_REDIS = "redis"
const STORAGE_SQLITE = "sqlite"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingBool(settingKey string) bool {
	b, _ := strconv.ParseBool(GetSystemSettingString(settingKey))
	return b
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	switch settingKey {
	case STORAGE:
		return STORAGE_MEMORY
	case REDIS_ADDR:
		return "localhost:6379"
	case REDIS_DB:
		return "0"
	case SQLITE_PATH:
		return "./transition.db"
	case STRICT_KINDS:
		return "false"
	case LOG_LEVEL:
		return "info"
	case EXECUTION_RETENTION:
		return "720h" // 30 days
	}
	return ""
}

// LogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func LogLevel() slog.Level {
	switch strings.ToLower(GetSystemSettingString(LOG_LEVEL)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
