package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "CREDITD"

	FlagHTTPListenAddr    = "http-listen-addr"
	FlagGRPCListenAddr    = "grpc-listen-addr"
	FlagDatabaseURL       = "database-url"
	FlagStoreBackend      = "store"
	FlagMigrateOnStart    = "migrate-on-start"
	FlagRedisAddr         = "redis-addr"
	FlagRedisPassword     = "redis-password"
	FlagRedisDB           = "redis-db"
	FlagRedisKeyPrefix    = "redis-key-prefix"
	FlagNATSURL           = "nats-url"
	FlagAllowedOrigins    = "allowed-origins"
	FlagSessionSigningKey = "jwt-signing-key"
	FlagSessionIssuer     = "jwt-issuer"
	FlagSessionCookieName = "jwt-cookie-name"
	FlagWebhookSecret     = "webhook-secret"
	FlagRequestTimeout    = "request-timeout"
	FlagAttemptTTL        = "attempt-ttl"
	FlagMetricsEnabled    = "metrics"
	FlagTierPrices        = "tier-prices"
	FlagActionPrices      = "action-prices"
)

// RegisterServeFlags adds every serve setting to flags.
func RegisterServeFlags(flags *pflag.FlagSet) {
	RegisterDatabaseFlags(flags)
	flags.String(FlagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	flags.String(FlagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.String(FlagStoreBackend, StoreGorm, "ledger store implementation (gorm or pgx)")
	flags.Bool(FlagMigrateOnStart, false, "apply PostgreSQL migrations before serving")
	flags.String(FlagRedisAddr, "", "Redis address for attempt guards (empty uses an in-process guard)")
	flags.String(FlagRedisPassword, "", "Redis password")
	flags.Int(FlagRedisDB, 0, "Redis database number")
	flags.String(FlagRedisKeyPrefix, defaultRedisPrefix, "Redis key prefix for attempt guards")
	flags.String(FlagNATSURL, "", "NATS url for ledger events (empty disables publishing)")
	flags.String(FlagAllowedOrigins, defaultAllowedOrigin, "comma-separated list of allowed CORS origins")
	flags.String(FlagSessionSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(FlagSessionIssuer, defaultSessionIssuer, "expected JWT issuer")
	flags.String(FlagSessionCookieName, defaultSessionCookie, "JWT cookie name")
	flags.String(FlagWebhookSecret, "", "shared secret for payment webhooks (empty rejects all webhooks)")
	flags.Duration(FlagRequestTimeout, defaultRequestTimeout, "per-request ledger timeout")
	flags.Duration(FlagAttemptTTL, defaultAttemptTTL, "how long an attempt token stays locked")
	flags.Bool(FlagMetricsEnabled, true, "expose /metrics")
	flags.String(FlagTierPrices, "", "listing tier price overrides, e.g. basic=5,premium=15")
	flags.String(FlagActionPrices, "", "priced action overrides, e.g. contact=2")
}

// RegisterDatabaseFlags adds the database setting shared by every subcommand.
func RegisterDatabaseFlags(flags *pflag.FlagSet) {
	flags.String(FlagDatabaseURL, defaultDatabaseURL, "PostgreSQL url or SQLite path")
}

func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	_ = godotenv.Load()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadDatabaseURL resolves only the database url, for subcommands that do not serve.
func LoadDatabaseURL(flags *pflag.FlagSet) (string, error) {
	v, err := newViper(flags)
	if err != nil {
		return "", err
	}
	return defaultIfEmpty(v.GetString(FlagDatabaseURL), defaultDatabaseURL), nil
}

// Load resolves the serve configuration from flags, the environment and .env, then validates it.
func Load(flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(flags)
	if err != nil {
		return Config{}, err
	}
	tierPrices, err := ParsePrices(v.GetString(FlagTierPrices))
	if err != nil {
		return Config{}, err
	}
	actionPrices, err := ParsePrices(v.GetString(FlagActionPrices))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPListenAddr:    v.GetString(FlagHTTPListenAddr),
		GRPCListenAddr:    v.GetString(FlagGRPCListenAddr),
		DatabaseURL:       v.GetString(FlagDatabaseURL),
		StoreBackend:      v.GetString(FlagStoreBackend),
		MigrateOnStart:    v.GetBool(FlagMigrateOnStart),
		RedisAddr:         strings.TrimSpace(v.GetString(FlagRedisAddr)),
		RedisPassword:     v.GetString(FlagRedisPassword),
		RedisDB:           v.GetInt(FlagRedisDB),
		RedisKeyPrefix:    v.GetString(FlagRedisKeyPrefix),
		NATSURL:           strings.TrimSpace(v.GetString(FlagNATSURL)),
		AllowedOrigins:    ParseAllowedOrigins(v.GetString(FlagAllowedOrigins)),
		SessionSigningKey: v.GetString(FlagSessionSigningKey),
		SessionIssuer:     v.GetString(FlagSessionIssuer),
		SessionCookieName: v.GetString(FlagSessionCookieName),
		WebhookSecret:     v.GetString(FlagWebhookSecret),
		RequestTimeout:    v.GetDuration(FlagRequestTimeout),
		AttemptTTL:        v.GetDuration(FlagAttemptTTL),
		MetricsEnabled:    v.GetBool(FlagMetricsEnabled),
		TierPrices:        tierPrices,
		ActionPrices:      actionPrices,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
