// Package models - Service configuration and operational settings.
//
// Every section can be set from YAML and overridden from APICORE_-prefixed
// environment variables. Sections validate themselves; Config.Validate walks
// all of them so a misconfiguration is reported before the server starts.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server" envPrefix:"SERVER_"`
	Storage       StorageConfig       `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging" envPrefix:"LOG_"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Pagination    PaginationConfig    `yaml:"pagination" json:"pagination" envPrefix:"PAGINATION_"`
	Negotiation   NegotiationConfig   `yaml:"negotiation" json:"negotiation" envPrefix:"NEGOTIATION_"`
	Redis         RedisConfig         `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" envPrefix:"OTEL_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" json:"port" env:"PORT"`
	Host            string        `yaml:"host" json:"host" env:"HOST"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	TLSEnabled      bool          `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type" env:"TYPE"`
	Path     string         `yaml:"path" json:"path" env:"PATH"`
	Database DatabaseConfig `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	// Seed fills an empty collection with demo items on startup.
	Seed int `yaml:"seed" json:"seed" env:"SEED"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" json:"query_timeout" env:"QUERY_TIMEOUT"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" env:"LEVEL"`
	Format   string `yaml:"format" json:"format" env:"FORMAT"`
	Output   string `yaml:"output" json:"output" env:"OUTPUT"`
	FilePath string `yaml:"file_path" json:"file_path" env:"FILE_PATH"`
}

// QuotaConfig is a token bucket size and refill speed. Zero fields inherit
// from the enclosing tier or the default quota.
type QuotaConfig struct {
	Capacity        int     `yaml:"capacity" json:"capacity" env:"CAPACITY"`
	RefillPerSecond float64 `yaml:"refill_per_second" json:"refill_per_second" env:"REFILL_PER_SECOND"`
}

type TierConfig struct {
	QuotaConfig `yaml:",inline"`
	// Classes overrides the tier quota per endpoint class.
	Classes map[string]QuotaConfig `yaml:"classes" json:"classes"`
}

// APIKey maps a client key to a subject name and tier.
type APIKey struct {
	Key     string `yaml:"key" json:"key" env:"KEY"`
	Name    string `yaml:"name" json:"name" env:"NAME"`
	Tier    string `yaml:"tier" json:"tier" env:"TIER"`
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
}

type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Store           string        `yaml:"store" json:"store" env:"STORE"`
	FailurePolicy   string        `yaml:"failure_policy" json:"failure_policy" env:"FAILURE_POLICY"`
	Retries         int           `yaml:"retries" json:"retries" env:"RETRIES"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff" env:"RETRY_BACKOFF"`
	StoreTimeout    time.Duration `yaml:"store_timeout" json:"store_timeout" env:"STORE_TIMEOUT"`
	IdleTTL         time.Duration `yaml:"idle_ttl" json:"idle_ttl" env:"IDLE_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"CLEANUP_INTERVAL"`

	Default       QuotaConfig           `yaml:"default" json:"default" envPrefix:"DEFAULT_"`
	Tiers         map[string]TierConfig `yaml:"tiers" json:"tiers"`
	AnonymousTier string                `yaml:"anonymous_tier" json:"anonymous_tier" env:"ANONYMOUS_TIER"`
	KeyHeader     string                `yaml:"key_header" json:"key_header" env:"KEY_HEADER"`
	APIKeys       []APIKey              `yaml:"api_keys" json:"api_keys" envPrefix:"API_KEYS_"`

	// SkipSuccessful and SkipFailed refund the tokens of requests that
	// ended with a 2xx/3xx or a 4xx/5xx status respectively.
	SkipSuccessful bool `yaml:"skip_successful" json:"skip_successful" env:"SKIP_SUCCESSFUL"`
	SkipFailed     bool `yaml:"skip_failed" json:"skip_failed" env:"SKIP_FAILED"`
}

type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size" env:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int `yaml:"max_page_size" json:"max_page_size" env:"MAX_PAGE_SIZE"`
}

type NegotiationConfig struct {
	Formats   []string `yaml:"formats" json:"formats" env:"FORMATS"`
	Encodings []string `yaml:"encodings" json:"encodings" env:"ENCODINGS"`
	Languages []string `yaml:"languages" json:"languages" env:"LANGUAGES"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" env:"ADDR"`
	Password  string `yaml:"password" json:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" json:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
	Port    int    `yaml:"port" json:"port" env:"PORT"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing" envPrefix:"TRACING_"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Exporter     string  `yaml:"exporter" json:"exporter" env:"EXPORTER"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// NewDefaultConfig creates a configuration that runs without external
// dependencies: SQLite in memory, a local token bucket store and JSON logs.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeSQLite,
			Database: DatabaseConfig{
				DSN:             "file:apicore?mode=memory&cache=shared",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				QueryTimeout:    5 * time.Second,
			},
			Seed: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Store:           RateLimitStoreMemory,
			FailurePolicy:   "closed",
			Retries:         2,
			RetryBackoff:    25 * time.Millisecond,
			StoreTimeout:    250 * time.Millisecond,
			IdleTTL:         10 * time.Minute,
			CleanupInterval: time.Minute,
			Default:         QuotaConfig{Capacity: 60, RefillPerSecond: 1},
			Tiers: map[string]TierConfig{
				"free":    {QuotaConfig: QuotaConfig{Capacity: 60, RefillPerSecond: 1}},
				"basic":   {QuotaConfig: QuotaConfig{Capacity: 300, RefillPerSecond: 5}},
				"premium": {QuotaConfig: QuotaConfig{Capacity: 1000, RefillPerSecond: 20}},
			},
			AnonymousTier: "free",
			KeyHeader:     "X-API-Key",
			APIKeys:       []APIKey{},
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Negotiation: NegotiationConfig{
			Formats:   []string{"application/json"},
			Encodings: []string{"gzip", "deflate"},
			Languages: []string{"en"},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "apicore:ratelimit:",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "apicore",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Pagination.Validate(); err != nil {
		return fmt.Errorf("invalid pagination config: %w", err)
	}

	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation config: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.Store == RateLimitStoreRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 || sc.ShutdownTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Type == StorageTypeJSON && stc.Path == "" {
		return errors.New("path is required for JSON storage")
	}

	if (stc.Type == StorageTypePostgres || stc.Type == StorageTypeSQLite) && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	if stc.Database.QueryTimeout < 0 {
		return errors.New("query timeout cannot be negative")
	}

	if stc.Seed < 0 {
		return errors.New("seed count cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (q QuotaConfig) validate(allowZero bool) error {
	if q.Capacity < 0 || (!allowZero && q.Capacity == 0) {
		return errors.New("capacity must be positive")
	}
	if q.RefillPerSecond < 0 || (!allowZero && q.RefillPerSecond == 0) {
		return errors.New("refill rate must be positive")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if !slices.Contains([]string{RateLimitStoreMemory, RateLimitStoreRedis}, rc.Store) {
		return fmt.Errorf("invalid rate limit store: %s", rc.Store)
	}

	if rc.FailurePolicy != "open" && rc.FailurePolicy != "closed" {
		return fmt.Errorf("invalid failure policy: %s", rc.FailurePolicy)
	}

	if rc.Retries < 0 {
		return errors.New("retries cannot be negative")
	}

	if rc.RetryBackoff < 0 || rc.StoreTimeout < 0 || rc.IdleTTL < 0 || rc.CleanupInterval < 0 {
		return errors.New("durations cannot be negative")
	}

	if err := rc.Default.validate(false); err != nil {
		return fmt.Errorf("default quota: %w", err)
	}

	for name, tier := range rc.Tiers {
		if err := tier.validate(true); err != nil {
			return fmt.Errorf("tier %s: %w", name, err)
		}
		for class, q := range tier.Classes {
			if err := q.validate(true); err != nil {
				return fmt.Errorf("tier %s class %s: %w", name, class, err)
			}
		}
	}

	if rc.AnonymousTier == "" {
		return errors.New("anonymous tier cannot be empty")
	}

	for _, key := range rc.APIKeys {
		if key.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if key.Name == "" {
			return errors.New("API key name cannot be empty")
		}
	}

	return nil
}

func (pc *PaginationConfig) Validate() error {
	if pc.MaxPageSize < 1 {
		return errors.New("max page size must be at least 1")
	}
	if pc.DefaultPageSize < 1 || pc.DefaultPageSize > pc.MaxPageSize {
		return errors.New("default page size must be between 1 and the max page size")
	}
	return nil
}

func (nc *NegotiationConfig) Validate() error {
	if len(nc.Formats) == 0 {
		return errors.New("at least one format is required")
	}
	// Bodies are always encoded as JSON.
	for _, f := range nc.Formats {
		if !isJSONFormat(f) {
			return fmt.Errorf("unsupported format: %s", f)
		}
	}
	for _, enc := range nc.Encodings {
		if enc != "gzip" && enc != "deflate" {
			return fmt.Errorf("unsupported encoding: %s", enc)
		}
	}
	return nil
}

func isJSONFormat(f string) bool {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "application/json" {
		return true
	}
	sub, ok := strings.CutPrefix(f, "application/")
	return ok && len(sub) > len("+json") && strings.HasSuffix(sub, "+json") && !strings.Contains(sub, "/")
}

func (rc *RedisConfig) Validate() error {
	if rc.Addr == "" {
		return errors.New("redis address is required when the rate limit store is redis")
	}
	if rc.DB < 0 {
		return errors.New("redis db cannot be negative")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.Tracing.Exporter != "stdout" && oc.Tracing.Exporter != "otlp" {
		return fmt.Errorf("invalid tracing exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("tracing sample rate must be between 0 and 1")
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("OTLP endpoint is required when tracing exporter is otlp")
	}

	return nil
}

// EnabledKeys returns the API keys that are switched on.
func (rc *RateLimitConfig) EnabledKeys() []APIKey {
	keys := make([]APIKey, 0, len(rc.APIKeys))
	for _, k := range rc.APIKeys {
		if k.Enabled {
			keys = append(keys, k)
		}
	}
	return keys
}
