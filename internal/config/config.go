package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime configuration for the application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	Versioning VersioningConfig `yaml:"versioning"`
}

// ServerConfig configures the HTTP server runtime behavior.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig contains the database connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// UseMock swaps the postgres connection for the seeded in-memory
	// database, for local development without a running server.
	UseMock bool `yaml:"use_mock"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig groups authentication settings.
type AuthConfig struct {
	Session SessionConfig `yaml:"session"`
}

// SessionConfig controls session cookie behavior.
type SessionConfig struct {
	Lifetime     time.Duration `yaml:"lifetime"`
	CookieName   string        `yaml:"cookie_name"`
	CookieDomain string        `yaml:"cookie_domain"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// VersioningConfig tunes the recipe version ledger.
type VersioningConfig struct {
	// Retention is the number of versions kept per recipe when pruning
	// runs. Zero disables automatic pruning.
	Retention int `yaml:"retention"`
}

// Load builds a Config value from an optional YAML file (MISE_CONFIG or
// CONFIG_FILE) overlaid by environment variables. Environment always wins.
func Load() (Config, error) {
	cfg := Config{}

	if path := firstNonEmpty(os.Getenv("MISE_CONFIG"), os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server = ServerConfig{
		Addr: firstNonEmpty(
			os.Getenv("SERVER_ADDR"),
			os.Getenv("ADDR"),
			cfg.Server.Addr,
			":8080",
		),
	}

	cfg.Database = DatabaseConfig{
		URL: firstNonEmpty(
			os.Getenv("DATABASE_URL"),
			os.Getenv("DB_URL"),
			cfg.Database.URL,
		),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_IDLE_CONNS"), cfg.Database.MaxIdleConns),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_OPEN_CONNS"), cfg.Database.MaxOpenConns),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_LIFETIME"), cfg.Database.ConnMaxLifetime),
		ConnMaxIdleTime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_IDLE_TIME"), cfg.Database.ConnMaxIdleTime),
		UseMock:         parseBoolWithDefault(os.Getenv("DATABASE_USE_MOCK"), cfg.Database.UseMock),
	}

	cfg.Logging = LoggingConfig{
		Level: firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.Logging.Level, "info"),
	}

	sessionLifetime := cfg.Auth.Session.Lifetime
	if sessionLifetime <= 0 {
		sessionLifetime = 12 * time.Hour
	}
	cfg.Auth.Session = SessionConfig{
		Lifetime:     parseDurationWithDefault(os.Getenv("SESSION_LIFETIME"), sessionLifetime),
		CookieName:   firstNonEmpty(os.Getenv("SESSION_COOKIE_NAME"), cfg.Auth.Session.CookieName, "mise_session"),
		CookieDomain: firstNonEmpty(os.Getenv("SESSION_COOKIE_DOMAIN"), cfg.Auth.Session.CookieDomain),
		CookieSecure: parseBoolWithDefault(os.Getenv("SESSION_COOKIE_SECURE"), cfg.Auth.Session.CookieSecure),
	}

	cfg.Versioning = VersioningConfig{
		Retention: parseIntWithDefault(os.Getenv("VERSION_RETENTION"), cfg.Versioning.Retention),
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return Config{}, fmt.Errorf("server address must not be empty")
	}
	if cfg.Versioning.Retention < 0 {
		return Config{}, fmt.Errorf("version retention must not be negative")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func parseIntWithDefault(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return def
	}
	return parsed
}

func parseBoolWithDefault(value string, def bool) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return def
	}
	return parsed
}
