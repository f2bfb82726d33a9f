package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/batch/archive"
	"github.com/meridianbenefits/claimbatch/batch/dispatch"
	"github.com/meridianbenefits/claimbatch/batch/limit"
	"github.com/meridianbenefits/claimbatch/claims"
	"github.com/meridianbenefits/claimbatch/config"
	"github.com/meridianbenefits/claimbatch/logger"
	"github.com/meridianbenefits/claimbatch/server"
)

// Claim status written when a sweep folds a claim into a batch job, so the
// next sweep does not pick it up again
const statusQueued = "queued"

// EngineCmd groups the batch engine daemon commands
var EngineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the batch claims adjudication engine",
	Long: `Run the batch claims adjudication engine.

The engine daemon:
- Sweeps submitted claims into priority-ordered batch jobs
- Dispatches queued jobs up to the configured concurrency cap
- Retries failed claims and trips a circuit breaker on high failure rates
- Archives terminal jobs to SQLite
- Optionally serves a WebSocket monitor with live job updates

Example:
  claimbatch engine start                 # Start daemon in foreground
  claimbatch engine start --no-sweep      # Only process externally created jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var engineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine daemon",
	Long: `Start the engine daemon in foreground mode.

The daemon runs until interrupted (Ctrl+C). On shutdown the dispatcher
stops promoting jobs, in-flight claims run to their terminal state, and
the monitor disconnects its clients.`,
	RunE: runEngineStart,
}

func init() {
	engineStartCmd.Flags().Bool("no-sweep", false, "Do not sweep submitted claims into batch jobs")
	EngineCmd.AddCommand(engineStartCmd)
}

func runEngineStart(cmd *cobra.Command, args []string) error {
	noSweep, _ := cmd.Flags().GetBool("no-sweep")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	claimStore := claims.NewStore(database)
	adjudicator := claims.NewAdjudicator(claimStore)
	archiveStore := archive.NewStore(database)

	var limiter batch.RateLimiter
	if cfg.Engine.AdjudicatorCallsPerMinute > 0 {
		limiter = limit.NewLimiter(cfg.Engine.AdjudicatorCallsPerMinute)
	}

	registry := batch.NewRegistry(claimStore, adjudicator, batch.RegistryConfig{
		Defaults: jobDefaults(cfg),
		MaxJobs:  cfg.Engine.MaxQueuedJobs,
	}, nil, limiter, archiveStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval := time.Duration(cfg.Engine.DispatchIntervalSeconds) * time.Second
	dispatcher := dispatch.NewWithContext(ctx, registry, dispatch.Config{
		Interval:             interval,
		MaxConcurrentBatches: cfg.Engine.MaxConcurrentBatches,
	}, nil)
	dispatcher.Start()

	var monitor *server.Monitor
	if cfg.Monitor.Enabled {
		monitor = server.NewMonitorWithContext(ctx, registry, cfg.Monitor.Port)
		if err := monitor.Start(); err != nil {
			dispatcher.Stop()
			return err
		}
	}

	if !noSweep {
		go sweepSubmittedClaims(ctx, registry, claimStore, interval)
	}

	fmt.Println("claimbatch engine started")
	fmt.Printf("  Dispatch interval:      %v\n", interval)
	fmt.Printf("  Max concurrent batches: %d\n", cfg.Engine.MaxConcurrentBatches)
	fmt.Printf("  Processing mode:        %s\n", cfg.Batch.ProcessingMode)
	if cfg.Engine.AdjudicatorCallsPerMinute > 0 {
		fmt.Printf("  Adjudicator rate limit: %d calls/min\n", cfg.Engine.AdjudicatorCallsPerMinute)
	}
	if cfg.Monitor.Enabled {
		fmt.Printf("  Monitor:                ws://localhost:%d/ws\n", cfg.Monitor.Port)
	}
	fmt.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")

	dispatcher.Stop()
	if monitor != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Warnw("Monitor shutdown error", "error", err)
		}
		shutdownCancel()
	}
	cancel()
	registry.Wait()

	fmt.Println("claimbatch engine stopped")
	return nil
}

// jobDefaults maps the file configuration onto the per-job defaults
func jobDefaults(cfg *config.Config) batch.Configuration {
	return batch.Configuration{
		ProcessingMode:           batch.ProcessingMode(cfg.Batch.ProcessingMode),
		MaxConcurrency:           cfg.Batch.MaxConcurrency,
		RetryAttempts:            cfg.Batch.RetryAttempts,
		RetryDelay:               time.Duration(cfg.Batch.RetryDelayMs) * time.Millisecond,
		TimeoutPerClaim:          time.Duration(cfg.Batch.TimeoutPerClaimSeconds) * time.Second,
		FailureThreshold:         cfg.Batch.FailureThresholdPercent,
		AvgClaimTime:             time.Duration(cfg.Batch.AvgClaimSeconds * float64(time.Second)),
		EnableAutoRetry:          cfg.Batch.EnableAutoRetry,
		GroupByPriority:          cfg.Batch.GroupByPriority,
		SkipFailedClaims:         cfg.Batch.SkipFailedClaims,
		ValidateBeforeProcessing: cfg.Batch.ValidateBeforeProcess,
	}
}

// sweepSubmittedClaims periodically folds submitted claims into a new batch
// job and marks them queued so the next sweep skips them. The dispatcher
// picks the job up on its own schedule.
func sweepSubmittedClaims(ctx context.Context, registry *batch.Registry, store *claims.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		submitted, err := store.Query(ctx, batch.ClaimFilter{Status: "submitted"})
		if err != nil {
			logger.Errorw("Claim sweep query failed", "error", err)
			continue
		}
		if len(submitted) == 0 {
			continue
		}

		ids := make([]string, len(submitted))
		for i, c := range submitted {
			ids[i] = c.ID
		}

		name := fmt.Sprintf("sweep-%s", time.Now().Format("20060102-150405"))
		job, err := registry.CreateJob(ctx, name, "automatic sweep of submitted claims", ids, nil, map[string]string{
			"source": "sweep",
		})
		if err != nil {
			logger.Errorw("Claim sweep job creation failed", "error", err, "claims", len(ids))
			continue
		}

		for _, id := range ids {
			if err := store.SetStatus(ctx, id, statusQueued); err != nil {
				logger.Warnw("Failed to mark claim queued", "claim_id", id, "error", err)
			}
		}

		logger.Infow("Swept submitted claims into batch job",
			"batch_id", job.ID,
			"claims", len(ids),
			"priority", job.Priority)
	}
}
