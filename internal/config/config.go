package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvHost                  = "HOST"
	EnvPort                  = "PORT"
	EnvClaudeBinaryPath      = "CLAUDE_BINARY_PATH"
	EnvDBDriver              = "DB_DRIVER"
	EnvDBDSN                 = "DB_DSN"
	EnvAPIKeys               = "API_KEYS"
	EnvRequireAuth           = "REQUIRE_AUTH"
	EnvDefaultModel          = "DEFAULT_MODEL"
	EnvMaxConcurrentSessions = "MAX_CONCURRENT_SESSIONS"
	EnvSessionTimeoutMinutes = "SESSION_TIMEOUT_MINUTES"
	EnvProjectRoot           = "PROJECT_ROOT"
	EnvImageDir              = "IMAGE_DIR"
	EnvAllowedOrigins        = "ALLOWED_ORIGINS"
	EnvRateLimitPerMinute    = "RATE_LIMIT_REQUESTS_PER_MINUTE"
	EnvRateLimitBurst        = "RATE_LIMIT_BURST"
	EnvStreamingTimeoutSecs  = "STREAMING_TIMEOUT_SECONDS"
	EnvCleanupIntervalMins   = "CLEANUP_INTERVAL_MINUTES"
	EnvLogLevel              = "LOG_LEVEL"
	EnvWebhookURLs           = "WEBHOOK_URLS"
)

const (
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 8000
	DefaultClaudeBinaryPath      = "claude"
	DefaultDBDriver              = "sqlite"
	DefaultDBDSN                 = "claude_api.db"
	DefaultModel                 = "claude-sonnet-4-5-20250929"
	DefaultMaxConcurrentSessions = 10
	DefaultSessionTimeout        = 30 * time.Minute
	DefaultRateLimitPerMinute    = 100
	DefaultRateLimitBurst        = 10
	DefaultStreamingTimeout      = 300 * time.Second
	DefaultCleanupInterval       = 60 * time.Minute
	DefaultLogLevel              = "info"
)

type Config struct {
	Host                  string
	Port                  int
	ClaudeBinaryPath      string
	DBDriver              string
	DBDSN                 string
	APIKeys               []string
	RequireAuth           bool
	DefaultModel          string
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	ProjectRoot           string
	ImageDir              string
	AllowedOrigins        []string
	RateLimitPerMinute    int
	RateLimitBurst        int
	StreamingTimeout      time.Duration
	CleanupInterval       time.Duration
	LogLevel              string
	WebhookURLs           []string
	ModelAliases          map[string]string
}

func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func FromEnv() Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return cfg
}

// Load layers defaults, the YAML config file and the environment, in that
// order. explicitPath overrides config file discovery when non-empty.
func Load(explicitPath string) (Config, error) {
	cfg := defaultConfig()

	fileCfg, err := loadFileConfig(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		ClaudeBinaryPath:      DefaultClaudeBinaryPath,
		DBDriver:              DefaultDBDriver,
		DBDSN:                 DefaultDBDSN,
		DefaultModel:          DefaultModel,
		MaxConcurrentSessions: DefaultMaxConcurrentSessions,
		SessionTimeout:        DefaultSessionTimeout,
		ProjectRoot:           filepath.Join(os.TempDir(), "claude_projects"),
		ImageDir:              os.TempDir(),
		AllowedOrigins:        []string{"*"},
		RateLimitPerMinute:    DefaultRateLimitPerMinute,
		RateLimitBurst:        DefaultRateLimitBurst,
		StreamingTimeout:      DefaultStreamingTimeout,
		CleanupInterval:       DefaultCleanupInterval,
		LogLevel:              DefaultLogLevel,
		ModelAliases:          map[string]string{},
	}
}

func applyYAML(cfg *Config, source fileConfig) error {
	if value := strings.TrimSpace(source.Host); value != "" {
		cfg.Host = value
	}
	if source.Port != 0 {
		cfg.Port = source.Port
	}
	if value := strings.TrimSpace(source.ClaudeBinaryPath); value != "" {
		cfg.ClaudeBinaryPath = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if keys := cleanList(source.APIKeys); len(keys) > 0 {
		cfg.APIKeys = keys
	}
	if source.RequireAuth != nil {
		cfg.RequireAuth = *source.RequireAuth
	}
	if value := strings.TrimSpace(source.DefaultModel); value != "" {
		cfg.DefaultModel = value
	}
	if source.MaxConcurrentSessions != 0 {
		cfg.MaxConcurrentSessions = source.MaxConcurrentSessions
	}
	if value := strings.TrimSpace(source.ProjectRoot); value != "" {
		cfg.ProjectRoot = ResolvePath(value)
	}
	if value := strings.TrimSpace(source.ImageDir); value != "" {
		cfg.ImageDir = ResolvePath(value)
	}
	if origins := cleanList(source.AllowedOrigins); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if source.RateLimit.RequestsPerMinute != 0 {
		cfg.RateLimitPerMinute = source.RateLimit.RequestsPerMinute
	}
	if source.RateLimit.Burst != 0 {
		cfg.RateLimitBurst = source.RateLimit.Burst
	}
	if value := strings.TrimSpace(source.LogLevel); value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}
	if urls := cleanList(source.WebhookURLs); len(urls) > 0 {
		cfg.WebhookURLs = urls
	}
	for alias, target := range source.ModelAliases {
		alias = strings.TrimSpace(alias)
		target = strings.TrimSpace(target)
		if alias == "" || target == "" {
			return fmt.Errorf("model_aliases entries must have a non-empty alias and target")
		}
		cfg.ModelAliases[alias] = target
	}

	var err error
	if cfg.SessionTimeout, err = parseOptionalDuration(source.SessionTimeout, cfg.SessionTimeout, "session_timeout"); err != nil {
		return err
	}
	if cfg.StreamingTimeout, err = parseOptionalDuration(source.StreamingTimeout, cfg.StreamingTimeout, "streaming_timeout"); err != nil {
		return err
	}
	if cfg.CleanupInterval, err = parseOptionalDuration(source.CleanupInterval, cfg.CleanupInterval, "cleanup_interval"); err != nil {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Host = EnvOrDefault(EnvHost, cfg.Host)
	cfg.Port = parseIntEnv(EnvPort, cfg.Port)
	cfg.ClaudeBinaryPath = EnvOrDefault(EnvClaudeBinaryPath, cfg.ClaudeBinaryPath)
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.APIKeys = parseCSVEnv(EnvAPIKeys, cfg.APIKeys)
	cfg.RequireAuth = parseBoolEnv(EnvRequireAuth, cfg.RequireAuth)
	cfg.DefaultModel = EnvOrDefault(EnvDefaultModel, cfg.DefaultModel)
	cfg.MaxConcurrentSessions = parseIntEnv(EnvMaxConcurrentSessions, cfg.MaxConcurrentSessions)
	if raw := EnvString(EnvProjectRoot); raw != "" {
		cfg.ProjectRoot = ResolvePath(raw)
	}
	if raw := EnvString(EnvImageDir); raw != "" {
		cfg.ImageDir = ResolvePath(raw)
	}
	cfg.AllowedOrigins = parseCSVEnv(EnvAllowedOrigins, cfg.AllowedOrigins)
	cfg.RateLimitPerMinute = parseIntEnv(EnvRateLimitPerMinute, cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = parseIntEnv(EnvRateLimitBurst, cfg.RateLimitBurst)
	cfg.LogLevel = strings.ToLower(EnvOrDefault(EnvLogLevel, cfg.LogLevel))
	cfg.WebhookURLs = parseCSVEnv(EnvWebhookURLs, cfg.WebhookURLs)

	if minutes := parseIntEnv(EnvSessionTimeoutMinutes, 0); minutes > 0 {
		cfg.SessionTimeout = time.Duration(minutes) * time.Minute
	}
	if seconds := parseIntEnv(EnvStreamingTimeoutSecs, 0); seconds > 0 {
		cfg.StreamingTimeout = time.Duration(seconds) * time.Second
	}
	if minutes := parseIntEnv(EnvCleanupIntervalMins, 0); minutes > 0 {
		cfg.CleanupInterval = time.Duration(minutes) * time.Minute
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%s must not be empty", EnvHost)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", EnvPort)
	}
	if strings.TrimSpace(c.ClaudeBinaryPath) == "" {
		return fmt.Errorf("%s must not be empty", EnvClaudeBinaryPath)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvDBDSN)
		}
	case "memory":
	default:
		return fmt.Errorf("%s must be sqlite, postgres or memory", EnvDBDriver)
	}
	if c.RequireAuth && len(c.APIKeys) == 0 {
		return fmt.Errorf("%s requires at least one key in %s", EnvRequireAuth, EnvAPIKeys)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("%s must not be empty", EnvDefaultModel)
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMaxConcurrentSessions)
	}
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return fmt.Errorf("%s must not be empty", EnvProjectRoot)
	}
	if strings.TrimSpace(c.ImageDir) == "" {
		return fmt.Errorf("%s must not be empty", EnvImageDir)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%s must be > 0", EnvRateLimitPerMinute)
	}
	if c.RateLimitBurst < 0 {
		return fmt.Errorf("%s must be >= 0", EnvRateLimitBurst)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSessionTimeoutMinutes)
	}
	if c.StreamingTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvStreamingTimeoutSecs)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvCleanupIntervalMins)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%s: %w", EnvLogLevel, err)
	}
	return nil
}
