package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSQLiteDSN = "claude_api.db"

// Applied to file-backed sqlite DSNs unless the DSN sets its own pragmas.
var sqlitePragmas = []string{"journal_mode(WAL)", "busy_timeout(5000)"}

func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver == "sqlite" {
			dsn = defaultSQLiteDSN
		} else {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
	}

	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "sqlite":
		dsn = trimSQLiteScheme(dsn)
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqliteDriver.Open(withSQLitePragmas(dsn)), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// trimSQLiteScheme accepts DATABASE_URL style values such as
// "sqlite:./claude_api.db" and "sqlite://data/api.db".
func trimSQLiteScheme(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		return dsn[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		return dsn[len("sqlite:"):]
	default:
		return dsn
	}
}

func withSQLitePragmas(dsn string) string {
	if _, ok := sqliteFilePath(dsn); !ok {
		return dsn
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	params := make([]string, 0, len(sqlitePragmas))
	for _, pragma := range sqlitePragmas {
		params = append(params, "_pragma="+url.QueryEscape(pragma))
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	if raw == "" {
		return "", false
	}
	if strings.EqualFold(raw, ":memory:") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(raw), "file::memory:") {
		return "", false
	}

	if strings.HasPrefix(strings.ToLower(raw), "file:") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return splitSQLitePath(raw), true
		}
		if strings.EqualFold(strings.TrimSpace(parsed.Query().Get("mode")), "memory") {
			return "", false
		}
		if strings.HasPrefix(strings.ToLower(parsed.Path), ":memory:") {
			return "", false
		}
		if parsed.Path != "" {
			return parsed.Path, true
		}
		if parsed.Opaque != "" {
			return splitSQLitePath(strings.TrimPrefix(raw, "file:")), true
		}
		return "", false
	}

	return splitSQLitePath(raw), true
}

func splitSQLitePath(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}
