// Package config loads creditd runtime settings from flags, CREDITD_* environment variables
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
)

const (
	StoreGorm = "gorm"
	StorePgx  = "pgx"

	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultDatabaseURL    = "sqlite:///tmp/roomledger.db"
	defaultAllowedOrigin  = "http://localhost:3000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultRequestTimeout = 5 * time.Second
	defaultAttemptTTL     = 30 * time.Second
	defaultRedisPrefix    = "creditd:attempt:"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for creditd.
type Config struct {
	HTTPListenAddr    string
	GRPCListenAddr    string
	DatabaseURL       string
	StoreBackend      string
	MigrateOnStart    bool
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	NATSURL           string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	WebhookSecret     string
	RequestTimeout    time.Duration
	AttemptTTL        time.Duration
	MetricsEnabled    bool
	TierPrices        map[string]int64
	ActionPrices      map[string]int64
}

// Validate fills defaults and rejects settings the server cannot start with.
func (cfg *Config) Validate() error {
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreBackend = strings.ToLower(defaultIfEmpty(cfg.StoreBackend, StoreGorm))
	cfg.RedisKeyPrefix = defaultIfEmpty(cfg.RedisKeyPrefix, defaultRedisPrefix)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = defaultAttemptTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	switch cfg.StoreBackend {
	case StoreGorm:
	case StorePgx:
		if !IsPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%w: the pgx store requires a postgres database url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, cfg.StoreBackend)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: session signing key is required", ErrInvalidConfig)
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("%w: redis db must not be negative", ErrInvalidConfig)
	}
	if _, err := cfg.PriceTable(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PriceTable overlays the configured prices on the reference table.
func (cfg Config) PriceTable() (ledger.PriceTable, error) {
	return ledger.NewPriceTable(cfg.TierPrices, cfg.ActionPrices)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// ParsePrices reads "name=credits" pairs separated by commas, e.g. "basic=5,premium=20".
func ParsePrices(raw string) (map[string]int64, error) {
	prices := map[string]int64{}
	for _, pair := range ParseAllowedOrigins(raw) {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("%w: price %q is not name=credits", ErrInvalidConfig, pair)
		}
		credits, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q: %w", ErrInvalidConfig, pair, err)
		}
		prices[strings.TrimSpace(name)] = credits
	}
	return prices, nil
}

// IsPostgresURL reports whether dsn points at PostgreSQL.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ResolveDatabase maps a database url to a gormstore driver name and DSN. Anything that is not
// a postgres url is treated as a SQLite path, with sqlite:// prefixes stripped.
func ResolveDatabase(dsn string) (string, string, error) {
	if IsPostgresURL(dsn) {
		return "postgres", dsn, nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "roomledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
