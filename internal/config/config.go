// Package config loads the service configuration. Defaults come from
// models.NewDefaultConfig, a YAML file may override them and APICORE_
// environment variables override both.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"apicore/internal/models"
)

// EnvPrefix is prepended to every environment variable name, e.g.
// APICORE_SERVER_PORT or APICORE_RATE_LIMIT_DEFAULT_CAPACITY.
const EnvPrefix = "APICORE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile decodes a YAML file over config. Unknown keys are rejected
// so a misspelt section does not silently fall back to defaults. An empty
// file leaves config untouched.
func loadFromFile(config *models.Config, filePath string) error {
	f, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies APICORE_ variables on top of config. Only
// variables that are set change a field.
func loadFromEnvironment(config *models.Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.RateLimit.APIKeys = []models.APIKey{
		{Key: "ak_your-key-here", Name: "example-client", Tier: "basic", Enabled: true},
	}
	config.RateLimit.Tiers["basic"] = models.TierConfig{
		QuotaConfig: models.QuotaConfig{Capacity: 300, RefillPerSecond: 5},
		Classes: map[string]models.QuotaConfig{
			"list": {Capacity: 30, RefillPerSecond: 0.5},
		},
	}

	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
