package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Server
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.ShutdownTimeout)
	assert.False(t, config.Server.TLSEnabled)

	// Storage
	assert.Equal(t, StorageTypeSQLite, config.Storage.Type)
	assert.NotEmpty(t, config.Storage.Database.DSN)
	assert.Equal(t, 5*time.Second, config.Storage.Database.QueryTimeout)
	assert.Equal(t, 50, config.Storage.Seed)

	// Rate limit
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, RateLimitStoreMemory, config.RateLimit.Store)
	assert.Equal(t, "closed", config.RateLimit.FailurePolicy)
	assert.Equal(t, 2, config.RateLimit.Retries)
	assert.Equal(t, "free", config.RateLimit.AnonymousTier)
	assert.Contains(t, config.RateLimit.Tiers, "premium")
	assert.Equal(t, "X-API-Key", config.RateLimit.KeyHeader)

	// Pagination and negotiation
	assert.Equal(t, 20, config.Pagination.DefaultPageSize)
	assert.Equal(t, 100, config.Pagination.MaxPageSize)
	assert.Equal(t, []string{"application/json"}, config.Negotiation.Formats)
	assert.Equal(t, []string{"gzip", "deflate"}, config.Negotiation.Encodings)

	// Logging
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Metrics and observability
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)
	assert.Equal(t, "apicore", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, 1.0, config.Observability.Tracing.SampleRate)

	require.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{name: "valid default config", mutate: func(c *Config) {}},
		{
			name:     "invalid server config",
			mutate:   func(c *Config) { c.Server.Port = -1 },
			errorMsg: "invalid server config",
		},
		{
			name:     "invalid storage config",
			mutate:   func(c *Config) { c.Storage.Type = "invalid-type" },
			errorMsg: "invalid storage config",
		},
		{
			name:     "invalid rate limit config",
			mutate:   func(c *Config) { c.RateLimit.FailurePolicy = "sometimes" },
			errorMsg: "invalid rate limit config",
		},
		{
			name:     "invalid pagination config",
			mutate:   func(c *Config) { c.Pagination.DefaultPageSize = 500 },
			errorMsg: "invalid pagination config",
		},
		{
			name:     "invalid negotiation config",
			mutate:   func(c *Config) { c.Negotiation.Formats = nil },
			errorMsg: "invalid negotiation config",
		},
		{
			name: "redis store without address",
			mutate: func(c *Config) {
				c.RateLimit.Store = RateLimitStoreRedis
				c.Redis.Addr = ""
			},
			errorMsg: "invalid redis config",
		},
		{
			name:   "redis address ignored for memory store",
			mutate: func(c *Config) { c.Redis.Addr = "" },
		},
		{
			name: "invalid observability config",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.Exporter = "zipkin"
			},
			errorMsg: "invalid observability config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			err := config.Validate()

			if tt.errorMsg != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   ServerConfig
		errorMsg string
	}{
		{name: "valid", config: ServerConfig{Port: 8080, Host: "localhost"}},
		{name: "port zero", config: ServerConfig{Port: 0, Host: "localhost"}, errorMsg: "port must be between 1 and 65535"},
		{name: "port too high", config: ServerConfig{Port: 70000, Host: "localhost"}, errorMsg: "port must be between 1 and 65535"},
		{name: "empty host", config: ServerConfig{Port: 8080}, errorMsg: "host cannot be empty"},
		{
			name:     "negative timeout",
			config:   ServerConfig{Port: 8080, Host: "localhost", ReadTimeout: -time.Second},
			errorMsg: "timeouts cannot be negative",
		},
		{
			name:     "tls without cert",
			config:   ServerConfig{Port: 8080, Host: "localhost", TLSEnabled: true, TLSKeyFile: "key.pem"},
			errorMsg: "TLS cert file is required",
		},
		{
			name:     "tls without key",
			config:   ServerConfig{Port: 8080, Host: "localhost", TLSEnabled: true, TLSCertFile: "cert.pem"},
			errorMsg: "TLS key file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStorageConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   StorageConfig
		errorMsg string
	}{
		{name: "memory", config: StorageConfig{Type: StorageTypeMemory}},
		{name: "json with path", config: StorageConfig{Type: StorageTypeJSON, Path: "./data/items.json"}},
		{name: "json without path", config: StorageConfig{Type: StorageTypeJSON}, errorMsg: "path is required"},
		{name: "sqlite without dsn", config: StorageConfig{Type: StorageTypeSQLite}, errorMsg: "database DSN is required"},
		{
			name:   "postgres with dsn",
			config: StorageConfig{Type: StorageTypePostgres, Database: DatabaseConfig{DSN: "postgres://localhost/apicore"}},
		},
		{name: "unknown type", config: StorageConfig{Type: "mongo"}, errorMsg: "invalid storage type: mongo"},
		{name: "negative seed", config: StorageConfig{Type: StorageTypeMemory, Seed: -1}, errorMsg: "seed count cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   LoggingConfig
		errorMsg string
	}{
		{name: "valid", config: LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{name: "invalid level", config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"}, errorMsg: "invalid log level: trace"},
		{name: "invalid format", config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, errorMsg: "invalid log format: xml"},
		{name: "invalid output", config: LoggingConfig{Level: "info", Format: "json", Output: "syslog"}, errorMsg: "invalid log output: syslog"},
		{name: "file without path", config: LoggingConfig{Level: "info", Format: "json", Output: "file"}, errorMsg: "file path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	valid := func() RateLimitConfig {
		return NewDefaultConfig().RateLimit
	}

	tests := []struct {
		name     string
		mutate   func(rc *RateLimitConfig)
		errorMsg string
	}{
		{name: "defaults", mutate: func(rc *RateLimitConfig) {}},
		{
			name: "disabled skips checks",
			mutate: func(rc *RateLimitConfig) {
				rc.Enabled = false
				rc.Store = "bogus"
			},
		},
		{name: "unknown store", mutate: func(rc *RateLimitConfig) { rc.Store = "etcd" }, errorMsg: "invalid rate limit store: etcd"},
		{name: "unknown policy", mutate: func(rc *RateLimitConfig) { rc.FailurePolicy = "maybe" }, errorMsg: "invalid failure policy"},
		{name: "negative retries", mutate: func(rc *RateLimitConfig) { rc.Retries = -1 }, errorMsg: "retries cannot be negative"},
		{
			name:     "negative timeout",
			mutate:   func(rc *RateLimitConfig) { rc.StoreTimeout = -time.Millisecond },
			errorMsg: "durations cannot be negative",
		},
		{
			name:     "zero default capacity",
			mutate:   func(rc *RateLimitConfig) { rc.Default.Capacity = 0 },
			errorMsg: "default quota: capacity must be positive",
		},
		{
			name: "tier may inherit from default",
			mutate: func(rc *RateLimitConfig) {
				rc.Tiers["partial"] = TierConfig{QuotaConfig: QuotaConfig{Capacity: 5}}
			},
		},
		{
			name: "negative class override",
			mutate: func(rc *RateLimitConfig) {
				rc.Tiers["free"] = TierConfig{Classes: map[string]QuotaConfig{"write": {RefillPerSecond: -1}}}
			},
			errorMsg: "tier free class write",
		},
		{name: "empty anonymous tier", mutate: func(rc *RateLimitConfig) { rc.AnonymousTier = "" }, errorMsg: "anonymous tier cannot be empty"},
		{
			name:     "api key without name",
			mutate:   func(rc *RateLimitConfig) { rc.APIKeys = []APIKey{{Key: "sk_1"}} },
			errorMsg: "API key name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := valid()
			tt.mutate(&rc)
			err := rc.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateLimitConfig_EnabledKeys(t *testing.T) {
	rc := RateLimitConfig{APIKeys: []APIKey{
		{Key: "a", Name: "alpha", Tier: "premium", Enabled: true},
		{Key: "b", Name: "bravo", Tier: "basic", Enabled: false},
	}}

	keys := rc.EnabledKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, "alpha", keys[0].Name)
}

func TestPaginationConfig_Validate(t *testing.T) {
	assert.NoError(t, (&PaginationConfig{DefaultPageSize: 10, MaxPageSize: 10}).Validate())
	assert.ErrorContains(t, (&PaginationConfig{DefaultPageSize: 10, MaxPageSize: 0}).Validate(), "max page size")
	assert.ErrorContains(t, (&PaginationConfig{DefaultPageSize: 0, MaxPageSize: 10}).Validate(), "default page size")
}

func TestNegotiationConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   NegotiationConfig
		errorMsg string
	}{
		{name: "json", config: NegotiationConfig{Formats: []string{"application/json"}}},
		{name: "json suffix", config: NegotiationConfig{Formats: []string{"application/json", "application/problem+json"}}},
		{name: "no formats", config: NegotiationConfig{}, errorMsg: "at least one format"},
		{name: "xml", config: NegotiationConfig{Formats: []string{"application/json", "application/xml"}}, errorMsg: "unsupported format: application/xml"},
		{name: "text", config: NegotiationConfig{Formats: []string{"text/plain"}}, errorMsg: "unsupported format: text/plain"},
		{name: "bare suffix", config: NegotiationConfig{Formats: []string{"application/+json"}}, errorMsg: "unsupported format"},
		{name: "wildcard", config: NegotiationConfig{Formats: []string{"application/*"}}, errorMsg: "unsupported format"},
		{
			name:     "brotli",
			config:   NegotiationConfig{Formats: []string{"application/json"}, Encodings: []string{"br"}},
			errorMsg: "unsupported encoding: br",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetricsConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		config   MetricsConfig
		errorMsg string
	}{
		{name: "disabled", config: MetricsConfig{Enabled: false}},
		{name: "valid", config: MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}},
		{name: "empty path", config: MetricsConfig{Enabled: true, Port: 9090}, errorMsg: "metrics path cannot be empty"},
		{name: "bad port", config: MetricsConfig{Enabled: true, Path: "/metrics", Port: 0}, errorMsg: "metrics port must be between 1 and 65535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorMsg != "" {
				assert.ErrorContains(t, err, tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestObservabilityConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      ObservabilityConfig
		expectError bool
		errorMsg    string
	}{
		{
			name: "tracing disabled",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: false},
			},
		},
		{
			name: "valid stdout tracing",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
			},
		},
		{
			name: "valid otlp tracing",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 0.5, OTLPEndpoint: "localhost:4317"},
			},
		},
		{
			name: "invalid exporter",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: true, Exporter: "invalid", SampleRate: 1.0},
			},
			expectError: true,
			errorMsg:    "invalid tracing exporter: invalid",
		},
		{
			name: "sample rate above 1",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.5},
			},
			expectError: true,
			errorMsg:    "tracing sample rate must be between 0 and 1",
		},
		{
			name: "otlp without endpoint",
			config: ObservabilityConfig{
				Tracing: TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1.0},
			},
			expectError: true,
			errorMsg:    "OTLP endpoint is required when tracing exporter is otlp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
