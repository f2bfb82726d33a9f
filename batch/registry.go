package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianbenefits/claimbatch/errors"
	"github.com/meridianbenefits/claimbatch/logger"
)

const (
	// DefaultMaxJobs caps the number of jobs the registry holds in memory
	DefaultMaxJobs = 1000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Archiver persists terminal jobs out of the in-memory registry
type Archiver interface {
	ArchiveJob(ctx context.Context, j *Job) error
}

// RegistryConfig configures a Registry
type RegistryConfig struct {
	// Defaults is the per-job configuration applied when the caller
	// passes no overrides at creation
	Defaults Configuration
	// MaxJobs caps in-memory jobs; 0 means DefaultMaxJobs
	MaxJobs int
}

// Registry owns every batch job for its lifetime: creation, priority
// assignment, lifecycle control, and fan-out of job updates to subscribers.
type Registry struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	order       []string // creation order, for oldest-first dispatch
	subscribers []chan Update

	store       ClaimStore
	adjudicator Adjudicator
	clock       Clock
	limiter     RateLimiter
	archiver    Archiver
	executor    *Executor

	defaults Configuration
	maxJobs  int

	wg sync.WaitGroup // running executors
}

// NewRegistry creates a registry. clock may be nil (system clock); limiter
// and archiver may be nil.
func NewRegistry(store ClaimStore, adjudicator Adjudicator, cfg RegistryConfig, clock Clock, limiter RateLimiter, archiver Archiver) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	r := &Registry{
		jobs:        make(map[string]*Job),
		store:       store,
		adjudicator: adjudicator,
		clock:       clock,
		limiter:     limiter,
		archiver:    archiver,
		defaults:    cfg.Defaults,
		maxJobs:     maxJobs,
	}
	r.executor = NewExecutor(adjudicator, store, clock, limiter, r.notifySubscribers)
	return r
}

// CreateJob validates the claim ids, assigns priorities, and registers a new
// pending job. Invalid ids are dropped with a warning, not recorded as
// failures, so they cannot skew duration or priority estimates.
func (r *Registry) CreateJob(ctx context.Context, name, description string, claimIDs []string, overrides *Configuration, metadata map[string]string) (*Job, error) {
	cfg := r.defaults
	if overrides != nil {
		cfg = *overrides
	}

	var items []*ClaimItem
	for _, id := range claimIDs {
		claim, err := r.store.Get(ctx, id)
		if err != nil {
			if errors.IsNotFoundError(err) {
				logger.Warnw("Dropping invalid claim id from batch", "claim_id", id, "batch_name", name)
				continue
			}
			return nil, errors.Wrapf(err, "failed to validate claim %s", id)
		}
		items = append(items, &ClaimItem{
			ClaimID:  claim.ID,
			Status:   ClaimStatusPending,
			Priority: ClaimPriority(claim),
		})
	}

	if len(items) == 0 {
		return nil, errors.Newf("batch job %q has no valid claims", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.jobs) >= r.maxJobs {
		err := errors.Wrapf(errors.ErrQueueFull, "registry holds %d jobs", len(r.jobs))
		return nil, errors.WithDetail(err, fmt.Sprintf("Max jobs: %d", r.maxJobs))
	}

	job := NewJob(name, description, items, cfg, metadata)
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)

	logger.Infow("Batch job created",
		"batch_id", job.ID,
		"name", name,
		"claims", len(items),
		"priority", job.Priority,
		"mode", cfg.ProcessingMode,
		"estimated_duration", job.EstimatedDuration)

	r.notifyLocked(job)
	return job, nil
}

// CreateJobFromFilters resolves a claim filter against the store and
// delegates to CreateJob
func (r *Registry) CreateJobFromFilters(ctx context.Context, name, description string, filter ClaimFilter, overrides *Configuration, metadata map[string]string) (*Job, error) {
	claims, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve claim filter")
	}
	ids := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return r.CreateJob(ctx, name, description, ids, overrides, metadata)
}

// StartJob transitions a pending job to running and launches its executor
func (r *Registry) StartJob(ctx context.Context, id string) error {
	job, err := r.GetJob(id)
	if err != nil {
		return err
	}

	if status := job.CurrentStatus(); status != JobStatusPending {
		return errors.NewInvalidStateError("cannot start batch job %s in state %s", id, status)
	}

	job.Start()
	logger.Infow("Batch job started", "batch_id", id, "claims", len(job.Claims))
	r.notifySubscribers(job)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.executor.Run(ctx, job)
	}()
	return nil
}

// CancelJob cancels a running job. Irreversible: the executor stops
// dispatching at the next boundary, already-dispatched items run to their
// terminal state, undispatched items stay pending.
func (r *Registry) CancelJob(id string) error {
	job, err := r.GetJob(id)
	if err != nil {
		return err
	}

	if status := job.CurrentStatus(); status != JobStatusRunning {
		return errors.NewInvalidStateError("cannot cancel batch job %s in state %s", id, status)
	}

	job.Cancel()
	logger.Infow("Batch job cancelled", "batch_id", id)
	r.notifySubscribers(job)
	return nil
}

// PauseJob requests a pause of a running job. The job visibly transitions to
// paused only once its in-flight chunk settles at the next boundary.
func (r *Registry) PauseJob(id string) error {
	job, err := r.GetJob(id)
	if err != nil {
		return err
	}

	if status := job.CurrentStatus(); status != JobStatusRunning {
		return errors.NewInvalidStateError("cannot pause batch job %s in state %s", id, status)
	}

	job.RequestPause()
	logger.Infow("Batch job pause requested", "batch_id", id)
	return nil
}

// ResumeJob restarts a paused job's executor over its still-pending items
func (r *Registry) ResumeJob(ctx context.Context, id string) error {
	job, err := r.GetJob(id)
	if err != nil {
		return err
	}

	if status := job.CurrentStatus(); status != JobStatusPaused {
		return errors.NewInvalidStateError("cannot resume batch job %s in state %s", id, status)
	}

	job.Resume()
	logger.Infow("Batch job resumed", "batch_id", id)
	r.notifySubscribers(job)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.executor.Run(ctx, job)
	}()
	return nil
}

// GetJob retrieves a job by id
func (r *Registry) GetJob(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("batch job %s", id)
	}
	return job, nil
}

// ListJobs returns all jobs in creation order
func (r *Registry) ListJobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out
}

// RunningCount returns how many jobs are currently running
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, job := range r.jobs {
		if job.CurrentStatus() == JobStatusRunning {
			n++
		}
	}
	return n
}

// OldestPending returns the oldest pending job, or nil if none exists
func (r *Registry) OldestPending() *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok && job.CurrentStatus() == JobStatusPending {
			return job
		}
	}
	return nil
}

// RegistryStats summarizes job counts by status
type RegistryStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Stats returns registry statistics
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s RegistryStats
	for _, job := range r.jobs {
		switch job.CurrentStatus() {
		case JobStatusPending:
			s.Pending++
		case JobStatusRunning:
			s.Running++
		case JobStatusPaused:
			s.Paused++
		case JobStatusCompleted:
			s.Completed++
		case JobStatusFailed:
			s.Failed++
		case JobStatusCancelled:
			s.Cancelled++
		}
		s.Total++
	}
	return s
}

// Cleanup archives and removes terminal jobs that reached their terminal
// state more than olderThan ago. Returns the number of jobs removed.
func (r *Registry) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.order[:0]
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok {
			continue
		}

		job.mu.Lock()
		terminal := job.Status.IsTerminal()
		old := job.CompletedAt != nil && job.CompletedAt.Before(cutoff)
		job.mu.Unlock()

		if !terminal || !old {
			kept = append(kept, id)
			continue
		}

		if r.archiver != nil {
			if err := r.archiver.ArchiveJob(ctx, job); err != nil {
				logger.Errorw("Failed to archive batch job, keeping in memory",
					"batch_id", id, "error", err)
				kept = append(kept, id)
				continue
			}
		}
		delete(r.jobs, id)
		removed++
	}
	r.order = kept

	if removed > 0 {
		logger.Infow("Cleaned up terminal batch jobs", "removed", removed)
	}
	return removed, nil
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (r *Registry) Subscribe() chan Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Update, SubscriberChannelBufferSize)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed by
// this method - callers close it themselves after unsubscribing if needed.
func (r *Registry) Unsubscribe(ch chan Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// Wait blocks until every launched executor has returned
func (r *Registry) Wait() {
	r.wg.Wait()
}

// notifySubscribers sends a job update to all subscribers.
// Uses non-blocking sends so a slow subscriber cannot stall the executor.
func (r *Registry) notifySubscribers(job *Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.notifyLocked(job)
}

// notifyLocked requires r.mu held (read or write)
func (r *Registry) notifyLocked(job *Job) {
	u := job.update()
	for _, ch := range r.subscribers {
		select {
		case ch <- u:
		default:
			// Channel full, skip
		}
	}
}
