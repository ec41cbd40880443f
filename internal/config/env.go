package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding whitespace
// and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a reader for a boolean variable. Unparsable
// values count as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Int returns a reader for a positive integer variable.
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.Atoi(s); err != nil || n <= 0 {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

var (
	// Debug enables debug logging. Configurable via TRAINKIT_DEBUG.
	Debug = BoolWithDefault("TRAINKIT_DEBUG")
	// Listen overrides server.listen. Configurable via TRAINKIT_LISTEN.
	Listen = func() string { return Var("TRAINKIT_LISTEN") }
	// DB overrides store.path. Configurable via TRAINKIT_DB.
	DB = func() string { return Var("TRAINKIT_DB") }
)

// LogLevel returns the slog level selected by TRAINKIT_DEBUG.
func LogLevel() slog.Level {
	if Debug(false) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// EnvVar documents one supported environment variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap lists the supported environment variables with their current values.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TRAINKIT_DEBUG":      {"TRAINKIT_DEBUG", Debug(false), "Show debug logging"},
		"TRAINKIT_LISTEN":     {"TRAINKIT_LISTEN", Listen(), "Control surface address, e.g. 127.0.0.1:8080"},
		"TRAINKIT_DB":         {"TRAINKIT_DB", DB(), "SQLite file metrics are recorded to"},
		"TRAINKIT_EPOCHS":     {"TRAINKIT_EPOCHS", Int("TRAINKIT_EPOCHS", 0)(), "Override training.epochs"},
		"TRAINKIT_BATCH_SIZE": {"TRAINKIT_BATCH_SIZE", Int("TRAINKIT_BATCH_SIZE", 0)(), "Override training.batchSize"},
		"TRAINKIT_PAUSED":     {"TRAINKIT_PAUSED", BoolWithDefault("TRAINKIT_PAUSED")(false), "Start with training paused"},
	}
}
