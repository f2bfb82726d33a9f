// Package batch implements the claim batch processing engine: job lifecycle,
// priority assignment, bounded-concurrency execution strategies, retry, and
// the failure-rate circuit breaker.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a batch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states a job can never leave
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ClaimStatus represents the state of a single claim item within a job
type ClaimStatus string

const (
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusCompleted  ClaimStatus = "completed"
	ClaimStatusFailed     ClaimStatus = "failed"
	ClaimStatusSkipped    ClaimStatus = "skipped"
	ClaimStatusRetrying   ClaimStatus = "retrying"
)

// Priority is the scheduling tier for both claim items and whole jobs
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ProcessingMode selects the executor strategy for a job
type ProcessingMode string

const (
	ModeSequential    ProcessingMode = "sequential"
	ModeParallel      ProcessingMode = "parallel"
	ModeSmartParallel ProcessingMode = "smart_parallel"
)

// Configuration is the per-job processing policy. Immutable once the job starts.
type Configuration struct {
	ProcessingMode           ProcessingMode `json:"processing_mode"`
	MaxConcurrency           int            `json:"max_concurrency"`
	RetryAttempts            int            `json:"retry_attempts"`
	RetryDelay               time.Duration  `json:"retry_delay"`
	TimeoutPerClaim          time.Duration  `json:"timeout_per_claim"` // 0 disables the per-claim timeout
	FailureThreshold         float64        `json:"failure_threshold"` // percentage, 0-100
	AvgClaimTime             time.Duration  `json:"avg_claim_time"`    // 0 means DefaultAvgClaimTime
	EnableAutoRetry          bool           `json:"enable_auto_retry"`
	GroupByPriority          bool           `json:"group_by_priority"`
	SkipFailedClaims         bool           `json:"skip_failed_claims"`
	ValidateBeforeProcessing bool           `json:"validate_before_processing"`
}

// ClaimItem is one unit of work inside a batch job. Created once at job
// creation, mutated in place by the processor, never removed - it doubles
// as the per-item audit trail.
type ClaimItem struct {
	ClaimID        string        `json:"claim_id"`
	Status         ClaimStatus   `json:"status"`
	Attempts       int           `json:"attempts"`
	Priority       Priority      `json:"priority"`
	Result         *Result       `json:"result,omitempty"` // set only on success
	Error          string        `json:"error,omitempty"`  // set only on failure
	ProcessingTime time.Duration `json:"processing_time"`  // duration of the last attempt
}

// JobError is one recorded failure within a batch job
type JobError struct {
	ClaimID   string    `json:"claim_id"` // empty for job-level (system) errors
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
	Retryable bool      `json:"retryable"`
}

// Progress is the derived batch-level progress snapshot. Recomputable at any
// time from the item list; the item list is the source of truth.
type Progress struct {
	TotalClaims            int           `json:"total_claims"`
	CompletedClaims        int           `json:"completed_claims"`
	FailedClaims           int           `json:"failed_claims"`
	SkippedClaims          int           `json:"skipped_claims"`
	ProcessingClaims       int           `json:"processing_claims"` // includes items waiting on a retry
	PendingClaims          int           `json:"pending_claims"`
	ProgressPercentage     float64       `json:"progress_percentage"`
	AverageProcessingTime  time.Duration `json:"average_processing_time"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
	CurrentProcessingRate  float64       `json:"current_processing_rate"` // claims per minute
}

// Results aggregates the outcome of a finished job. Monetary sums cover
// completed items only.
type Results struct {
	CompletedClaims            int           `json:"completed_claims"`
	FailedClaims               int           `json:"failed_claims"`
	SkippedClaims              int           `json:"skipped_claims"`
	TotalApprovedAmount        float64       `json:"total_approved_amount"`
	TotalDeniedAmount          float64       `json:"total_denied_amount"`
	TotalMemberResponsibility  float64       `json:"total_member_responsibility"`
	TotalInsurerResponsibility float64       `json:"total_insurer_responsibility"`
	TotalProcessingTime        time.Duration `json:"total_processing_time"` // wall time start to finish
	AverageClaimTime           time.Duration `json:"average_claim_time"`
	SuccessRate                float64       `json:"success_rate"` // completed/total*100
}

// Job represents one batch adjudication job. The registry owns every job for
// its lifetime; items are owned by the job and never shared across jobs.
//
// All mutation goes through the job's mutex. Executor internals in this
// package take the lock directly; external readers use the *Snapshot
// accessors, which copy under the lock.
type Job struct {
	mu sync.Mutex

	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Status            JobStatus         `json:"status"`
	Priority          Priority          `json:"priority"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	ActualDuration    time.Duration     `json:"actual_duration"`
	Config            Configuration     `json:"config"`
	Claims            []*ClaimItem      `json:"claims"`
	Progress          Progress          `json:"progress"`
	Results           *Results          `json:"results,omitempty"`
	Errors            []*JobError       `json:"errors,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	// pauseRequested is set by Pause and honored by the executor at the
	// next chunk/tier boundary. In-flight items always finish first.
	pauseRequested bool
}

// NewJob creates a pending job over the given claim items
func NewJob(name, description string, claims []*ClaimItem, cfg Configuration, metadata map[string]string) *Job {
	j := &Job{
		ID:          "BJ-" + uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      JobStatusPending,
		CreatedAt:   time.Now(),
		Config:      cfg,
		Claims:      claims,
		Metadata:    metadata,
	}
	j.Priority = jobPriority(claims)
	j.EstimatedDuration = estimateDuration(len(claims), cfg)
	j.recomputeProgressLocked()
	return j
}

// Start marks the job as running
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// RequestPause asks a running job to pause at the next chunk/tier boundary
func (j *Job) RequestPause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == JobStatusRunning {
		j.pauseRequested = true
	}
}

// Resume marks a paused job as running again
func (j *Job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = JobStatusRunning
	j.pauseRequested = false
}

// Complete marks the job as completed and freezes its final results
func (j *Job) Complete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.ActualDuration = now.Sub(*j.StartedAt)
	}
	j.Results = j.computeResultsLocked()
}

// Fail marks the job as failed with a synthetic job-level error
func (j *Job) Fail(errType, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.ActualDuration = now.Sub(*j.StartedAt)
	}
	j.Errors = append(j.Errors, &JobError{
		ErrorType: errType,
		Message:   message,
		Timestamp: now,
	})
	j.Results = j.computeResultsLocked()
}

// Cancel marks the job as cancelled. Irreversible; the executor observes the
// status at the next boundary and stops dispatching. Results computed here
// cover the item states at cancellation time; once the in-flight chunk
// settles the executor refreshes them via refreshFinalResults.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.ActualDuration = now.Sub(*j.StartedAt)
	}
	j.Results = j.computeResultsLocked()
}

// refreshFinalResults recomputes progress and results over the final item
// states. Called by the executor after its last in-flight items have settled,
// so a cancellation that raced a dispatched chunk still ends with Results
// matching the item list.
func (j *Job) refreshFinalResults() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.Status.IsTerminal() {
		return
	}
	j.recomputeProgressLocked()
	j.Results = j.computeResultsLocked()
}

// markPausedAtBoundary transitions a running job to paused. Called by the
// executor once the in-flight chunk has fully settled.
func (j *Job) markPausedAtBoundary() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == JobStatusRunning {
		j.Status = JobStatusPaused
	}
	j.pauseRequested = false
}

// shouldStop reports whether the executor must halt at the current boundary,
// and whether the halt is a pause (as opposed to a cancellation).
func (j *Job) shouldStop() (stop bool, pause bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == JobStatusCancelled || j.Status == JobStatusPaused {
		return true, false
	}
	if j.pauseRequested {
		return true, true
	}
	return false, false
}

// CurrentStatus returns the job's status under the lock
func (j *Job) CurrentStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// ProgressSnapshot returns a copy of the current progress
func (j *Job) ProgressSnapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Progress
}

// ResultsSnapshot returns a copy of the final results, or nil if the job has
// not reached a terminal state
func (j *Job) ResultsSnapshot() *Results {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Results == nil {
		return nil
	}
	r := *j.Results
	return &r
}

// ClaimSnapshots returns copies of all claim items
func (j *Job) ClaimSnapshots() []ClaimItem {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]ClaimItem, len(j.Claims))
	for i, c := range j.Claims {
		out[i] = *c
	}
	return out
}

// ErrorSnapshots returns copies of all recorded errors
func (j *Job) ErrorSnapshots() []JobError {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JobError, len(j.Errors))
	for i, e := range j.Errors {
		out[i] = *e
	}
	return out
}

// appendError records a per-item failure on the job
func (j *Job) appendError(e *JobError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Errors = append(j.Errors, e)
}

// failureRate returns failedClaims/totalClaims*100 for the circuit breaker
func (j *Job) failureRate() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.Claims) == 0 {
		return 0
	}
	failed := 0
	for _, c := range j.Claims {
		if c.Status == ClaimStatusFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(j.Claims)) * 100
}

// Update is the lightweight notification sent to registry subscribers after
// every observable job transition
type Update struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Status    JobStatus `json:"status"`
	Priority  Priority  `json:"priority"`
	Progress  Progress  `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// update builds a subscriber notification from the job's current state
func (j *Job) update() Update {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Update{
		JobID:     j.ID,
		Name:      j.Name,
		Status:    j.Status,
		Priority:  j.Priority,
		Progress:  j.Progress,
		Timestamp: time.Now(),
	}
}
