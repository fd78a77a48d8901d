package config

import (
	"os"
	"strconv"
	"strings"
)

func EnvString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func EnvOrDefault(key, fallback string) string {
	value := EnvString(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseBoolEnv(key string, fallback bool) bool {
	switch strings.ToLower(EnvString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// parseIntEnv ignores unparsable values and keeps fallback.
func parseIntEnv(key string, fallback int) int {
	raw := EnvString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSVEnv(key string, fallback []string) []string {
	raw := EnvString(key)
	if raw == "" {
		return fallback
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
