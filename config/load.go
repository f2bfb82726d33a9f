package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/meridianbenefits/claimbatch/errors"
)

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the claimbatch configuration using Viper.
// Configuration precedence: defaults < config file < CLAIMBATCH_* env vars.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
// Must be called with mu held.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("CLAIMBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Optional config file: claimbatch.toml in the working directory
	v.SetConfigName("claimbatch")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Missing file is fine - defaults plus env apply

	viperInstance = v
	return v
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "claimbatch.db")

	// Engine defaults
	v.SetDefault("engine.max_concurrent_batches", 3)
	v.SetDefault("engine.dispatch_interval_seconds", 10)
	v.SetDefault("engine.max_queued_jobs", 1000)
	v.SetDefault("engine.adjudicator_calls_per_minute", 0) // 0 = unlimited

	// Per-batch processing defaults
	v.SetDefault("batch.processing_mode", "parallel")
	v.SetDefault("batch.max_concurrency", 5)
	v.SetDefault("batch.retry_attempts", 2)
	v.SetDefault("batch.retry_delay_ms", 5000)
	v.SetDefault("batch.timeout_per_claim_seconds", 60)
	v.SetDefault("batch.failure_threshold_percent", 25.0)
	v.SetDefault("batch.avg_claim_seconds", 2.0)
	v.SetDefault("batch.enable_auto_retry", true)
	v.SetDefault("batch.group_by_priority", true)
	v.SetDefault("batch.skip_failed_claims", false)
	v.SetDefault("batch.validate_before_processing", false)

	// Monitor defaults
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 8710)
}
