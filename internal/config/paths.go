package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = ".claude-gateway"

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
	}
	return trimmed, nil
}

// ResolvePath expands a leading ~ and cleans the result. Relative paths stay
// relative to the working directory.
func ResolvePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if expanded, err := expandPath(trimmed); err == nil && expanded != "" {
		trimmed = expanded
	}
	return filepath.Clean(trimmed)
}
