package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultDatabaseMaxOpenConns    = 20
	defaultDatabaseMaxIdleConns    = 5
	defaultDatabaseConnMaxLifetime = 30 * time.Minute

	defaultUnpaidSweepInterval = time.Minute
	defaultUnpaidGrace         = 15 * time.Minute
	defaultStuckSweepInterval  = 24 * time.Hour
	defaultStuckDeliveryAge    = 60 * time.Minute
	defaultSweepBatchSize      = 200

	defaultDeliveryFee    = 600
	defaultPackFeePerItem = 100
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sweeps   SweepConfig
	Orders   OrderConfig
	Auth     AuthConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores relational database parameters.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SweepConfig controls the background order reconciler.
type SweepConfig struct {
	UnpaidInterval   time.Duration
	UnpaidGrace      time.Duration
	StuckInterval    time.Duration
	StuckDeliveryAge time.Duration
	BatchSize        int
}

// OrderConfig holds order pricing knobs, in minor currency units.
type OrderConfig struct {
	DeliveryFee    int64
	PackFeePerItem int64
}

// AuthConfig stores bearer token verification settings. WebhookSecret is
// optional; when empty the payment webhook route skips signature checks.
type AuthConfig struct {
	JWTSecret     string
	Issuer        string
	WebhookSecret string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDatabaseConnMaxLifetime),
		},
		Sweeps: SweepConfig{
			UnpaidInterval:   durationWithDefault(lookup, "API_SWEEP_UNPAID_INTERVAL", defaultUnpaidSweepInterval),
			UnpaidGrace:      durationWithDefault(lookup, "API_SWEEP_UNPAID_GRACE", defaultUnpaidGrace),
			StuckInterval:    durationWithDefault(lookup, "API_SWEEP_STUCK_INTERVAL", defaultStuckSweepInterval),
			StuckDeliveryAge: durationWithDefault(lookup, "API_SWEEP_STUCK_DELIVERY_AGE", defaultStuckDeliveryAge),
			BatchSize:        intWithDefault(lookup, "API_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
		},
		Orders: OrderConfig{
			DeliveryFee:    int64WithDefault(lookup, "API_ORDER_DELIVERY_FEE", defaultDeliveryFee),
			PackFeePerItem: int64WithDefault(lookup, "API_ORDER_PACK_FEE_PER_ITEM", defaultPackFeePerItem),
		},
		Auth: AuthConfig{
			JWTSecret:     stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			Issuer:        stringWithDefault(lookup, "API_AUTH_ISSUER", "skyfield-eats"),
			WebhookSecret: stringWithDefault(lookup, "API_AUTH_WEBHOOK_SECRET", ""),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		missing = append(missing, "Auth.JWTSecret")
	}
	if cfg.Sweeps.UnpaidInterval <= 0 {
		missing = append(missing, "Sweeps.UnpaidInterval")
	}
	if cfg.Sweeps.UnpaidGrace <= 0 {
		missing = append(missing, "Sweeps.UnpaidGrace")
	}
	if cfg.Sweeps.StuckInterval <= 0 {
		missing = append(missing, "Sweeps.StuckInterval")
	}
	if cfg.Sweeps.StuckDeliveryAge <= 0 {
		missing = append(missing, "Sweeps.StuckDeliveryAge")
	}
	if cfg.Sweeps.BatchSize <= 0 {
		missing = append(missing, "Sweeps.BatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
