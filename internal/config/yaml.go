package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "CLAUDE_GATEWAY_CONFIG_FILE"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"
)

type fileConfig struct {
	Host                  string            `yaml:"host"`
	Port                  int               `yaml:"port"`
	ClaudeBinaryPath      string            `yaml:"claude_binary_path"`
	DBDriver              string            `yaml:"db_driver"`
	DBDSN                 string            `yaml:"db_dsn"`
	APIKeys               []string          `yaml:"api_keys"`
	RequireAuth           *bool             `yaml:"require_auth"`
	DefaultModel          string            `yaml:"default_model"`
	MaxConcurrentSessions int               `yaml:"max_concurrent_sessions"`
	SessionTimeout        string            `yaml:"session_timeout"`
	ProjectRoot           string            `yaml:"project_root"`
	ImageDir              string            `yaml:"image_dir"`
	AllowedOrigins        []string          `yaml:"allowed_origins"`
	RateLimit             fileRateLimit     `yaml:"rate_limit"`
	StreamingTimeout      string            `yaml:"streaming_timeout"`
	CleanupInterval       string            `yaml:"cleanup_interval"`
	LogLevel              string            `yaml:"log_level"`
	WebhookURLs           []string          `yaml:"webhook_urls"`
	ModelAliases          map[string]string `yaml:"model_aliases"`
}

type fileRateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

func loadFileConfig(explicitPath string) (fileConfig, error) {
	path, ok, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicitPath string) (string, bool, error) {
	explicit := explicitPath
	source := "--config"
	if explicit == "" {
		explicit = EnvString(EnvConfigFile)
		source = EnvConfigFile
	}
	if explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", source, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(appDirName, defaultConfigFileName),
		filepath.Join(appDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, appDirName, defaultConfigFileName),
			filepath.Join(homeDir, appDirName, alternateConfigFileName),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", false, nil
}

func parseOptionalDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", field, raw, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", field)
	}
	return parsed, nil
}
