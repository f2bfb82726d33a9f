// Package dispatch runs the periodic loop that promotes pending batch jobs
// into execution while global capacity allows.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/logger"
)

// Dispatcher promotes the oldest pending job whenever the number of running
// batches is below the configured cap. This bounds inter-job concurrency
// independently of each job's internal max_concurrency.
type Dispatcher struct {
	registry *batch.Registry
	clock    batch.Clock

	interval             time.Duration
	maxConcurrentBatches int
	retention            time.Duration // 0 disables cleanup
	cleanupEvery         time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	lastTickAt    time.Time
	lastCleanupAt time.Time
	ticks         int64
	dispatched    int64
}

// Config contains configuration for the dispatcher
type Config struct {
	// Interval is how often to check for dispatchable jobs
	Interval time.Duration
	// MaxConcurrentBatches caps globally running batch jobs
	MaxConcurrentBatches int
	// Retention is how long terminal jobs stay resident before cleanup
	// archives them; 0 disables cleanup
	Retention time.Duration
	// CleanupEvery is how often the retention sweep runs
	CleanupEvery time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:             10 * time.Second,
		MaxConcurrentBatches: 3,
		Retention:            24 * time.Hour,
		CleanupEvery:         time.Hour,
	}
}

// New creates a dispatcher over the registry. clock may be nil (system clock).
func New(registry *batch.Registry, cfg Config, clock batch.Clock) *Dispatcher {
	return NewWithContext(context.Background(), registry, cfg, clock)
}

// NewWithContext creates a dispatcher with a parent context
func NewWithContext(ctx context.Context, registry *batch.Registry, cfg Config, clock batch.Clock) *Dispatcher {
	if clock == nil {
		clock = batch.SystemClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = DefaultConfig().MaxConcurrentBatches
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = DefaultConfig().CleanupEvery
	}

	dCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		registry:             registry,
		clock:                clock,
		interval:             cfg.Interval,
		maxConcurrentBatches: cfg.MaxConcurrentBatches,
		retention:            cfg.Retention,
		cleanupEvery:         cfg.CleanupEvery,
		ctx:                  dCtx,
		cancel:               cancel,
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	logger.Infow("Batch dispatcher started",
		"interval", d.interval,
		"max_concurrent_batches", d.maxConcurrentBatches)
}

// Stop gracefully stops the dispatch loop. Running executors are not
// interrupted; they observe context cancellation at their own boundaries.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	logger.Infow("Batch dispatcher stopped", "dispatched", d.Dispatched())
}

// run is the main dispatch loop. Intervals are awaited through the injected
// clock, so a fake clock drives the whole loop in tests.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		if err := d.clock.Sleep(d.ctx, d.interval); err != nil {
			return
		}

		d.mu.Lock()
		d.lastTickAt = d.clock.Now()
		d.ticks++
		d.mu.Unlock()

		d.tick()
		d.maybeCleanup()
	}
}

// tick dispatches pending jobs, oldest first, until the running cap is hit
func (d *Dispatcher) tick() {
	for d.registry.RunningCount() < d.maxConcurrentBatches {
		job := d.registry.OldestPending()
		if job == nil {
			return
		}

		if err := d.registry.StartJob(d.ctx, job.ID); err != nil {
			// Lost a race with a manual start; try again next tick
			logger.Warnw("Dispatcher failed to start batch job",
				"batch_id", job.ID, "error", err)
			return
		}

		d.mu.Lock()
		d.dispatched++
		d.mu.Unlock()

		logger.Infow("Dispatcher promoted batch job",
			"batch_id", job.ID,
			"priority", job.Priority,
			"running", d.registry.RunningCount(),
			"cap", d.maxConcurrentBatches)
	}
}

// maybeCleanup runs the retention sweep when it is due
func (d *Dispatcher) maybeCleanup() {
	if d.retention <= 0 {
		return
	}

	now := d.clock.Now()
	d.mu.Lock()
	due := now.Sub(d.lastCleanupAt) >= d.cleanupEvery
	if due {
		d.lastCleanupAt = now
	}
	d.mu.Unlock()
	if !due {
		return
	}

	if _, err := d.registry.Cleanup(d.ctx, d.retention); err != nil {
		logger.Errorw("Retention cleanup failed", "error", err)
	}
}

// Dispatched returns how many jobs this dispatcher has promoted
func (d *Dispatcher) Dispatched() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatched
}

// Stats returns dispatcher statistics
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at": d.lastTickAt,
		"ticks":        d.ticks,
		"dispatched":   d.dispatched,
		"interval":     d.interval,
	}
}
