package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseBoolEnv reads a boolean variable. It accepts true/1/yes/on and false/0/no/off;
// anything else yields defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
	return defaultValue
}

// EnvOr returns the variable's value, or def when unset or blank.
func EnvOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// ParseDurationEnv reads a time.ParseDuration value, falling back to def.
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", val, "default", def)
		return def
	}
	return d
}
