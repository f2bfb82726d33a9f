// Package config holds the claimbatch engine configuration.
package config

import (
	"github.com/meridianbenefits/claimbatch/errors"
)

// Config represents the full claimbatch configuration
type Config struct {
	Database Database `mapstructure:"database"`
	Engine   Engine   `mapstructure:"engine"`
	Batch    Batch    `mapstructure:"batch"`
	Monitor  Monitor  `mapstructure:"monitor"`
}

// Database configures the SQLite archive database
type Database struct {
	Path string `mapstructure:"path"`
}

// Engine configures the dispatcher and global processing limits
type Engine struct {
	// MaxConcurrentBatches caps how many batch jobs may run at once,
	// independently of each job's internal max_concurrency.
	MaxConcurrentBatches int `mapstructure:"max_concurrent_batches"`

	// DispatchIntervalSeconds is how often the dispatcher promotes
	// queued jobs into execution.
	DispatchIntervalSeconds int `mapstructure:"dispatch_interval_seconds"`

	// MaxQueuedJobs caps the registry's in-memory job count.
	MaxQueuedJobs int `mapstructure:"max_queued_jobs"`

	// AdjudicatorCallsPerMinute rate-limits calls to the downstream
	// adjudication service. 0 disables rate limiting.
	AdjudicatorCallsPerMinute int `mapstructure:"adjudicator_calls_per_minute"`
}

// Batch carries the per-job processing defaults applied when a caller
// does not override them at job creation.
type Batch struct {
	ProcessingMode          string  `mapstructure:"processing_mode"` // sequential, parallel, smart_parallel
	MaxConcurrency          int     `mapstructure:"max_concurrency"`
	RetryAttempts           int     `mapstructure:"retry_attempts"`
	RetryDelayMs            int     `mapstructure:"retry_delay_ms"`
	TimeoutPerClaimSeconds  int     `mapstructure:"timeout_per_claim_seconds"` // 0 disables the per-claim timeout
	FailureThresholdPercent float64 `mapstructure:"failure_threshold_percent"`
	AvgClaimSeconds         float64 `mapstructure:"avg_claim_seconds"` // assumed per-item time for duration estimates
	EnableAutoRetry         bool    `mapstructure:"enable_auto_retry"`
	GroupByPriority         bool    `mapstructure:"group_by_priority"`
	SkipFailedClaims        bool    `mapstructure:"skip_failed_claims"`
	ValidateBeforeProcess   bool    `mapstructure:"validate_before_processing"`
}

// Monitor configures the read-only WebSocket monitor
type Monitor struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentBatches < 1 {
		return errors.Newf("engine.max_concurrent_batches must be >= 1, got %d", c.Engine.MaxConcurrentBatches)
	}
	if c.Engine.DispatchIntervalSeconds < 1 {
		return errors.Newf("engine.dispatch_interval_seconds must be >= 1, got %d", c.Engine.DispatchIntervalSeconds)
	}
	if c.Engine.MaxQueuedJobs < 0 {
		return errors.Newf("engine.max_queued_jobs must be >= 0, got %d", c.Engine.MaxQueuedJobs)
	}
	if c.Engine.AdjudicatorCallsPerMinute < 0 {
		return errors.Newf("engine.adjudicator_calls_per_minute must be >= 0, got %d", c.Engine.AdjudicatorCallsPerMinute)
	}

	switch c.Batch.ProcessingMode {
	case "sequential", "parallel", "smart_parallel":
	default:
		return errors.Newf("batch.processing_mode must be sequential, parallel or smart_parallel, got %q", c.Batch.ProcessingMode)
	}
	if c.Batch.MaxConcurrency < 1 {
		return errors.Newf("batch.max_concurrency must be >= 1, got %d", c.Batch.MaxConcurrency)
	}
	if c.Batch.RetryAttempts < 0 {
		return errors.Newf("batch.retry_attempts must be >= 0, got %d", c.Batch.RetryAttempts)
	}
	if c.Batch.FailureThresholdPercent < 0 || c.Batch.FailureThresholdPercent > 100 {
		return errors.Newf("batch.failure_threshold_percent must be within [0,100], got %v", c.Batch.FailureThresholdPercent)
	}

	if c.Monitor.Enabled && c.Monitor.Port <= 0 {
		return errors.Newf("monitor.port must be positive when monitor is enabled, got %d", c.Monitor.Port)
	}

	return nil
}
