// Package archive persists terminal batch jobs to SQLite once the registry
// evicts them, preserving the per-claim audit trail.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/errors"
)

// Store reads and writes archived batch jobs
type Store struct {
	db *sql.DB
}

// NewStore creates an archive store over an open, migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ArchivedJob is the flattened archive record of a terminal batch job
type ArchivedJob struct {
	ID                         string     `json:"id"`
	Name                       string     `json:"name"`
	Description                string     `json:"description,omitempty"`
	Status                     string     `json:"status"`
	Priority                   string     `json:"priority"`
	ProcessingMode             string     `json:"processing_mode"`
	CreatedAt                  time.Time  `json:"created_at"`
	StartedAt                  *time.Time `json:"started_at,omitempty"`
	CompletedAt                *time.Time `json:"completed_at,omitempty"`
	EstimatedDuration          time.Duration
	ActualDuration             time.Duration
	TotalClaims                int     `json:"total_claims"`
	CompletedClaims            int     `json:"completed_claims"`
	FailedClaims               int     `json:"failed_claims"`
	SkippedClaims              int     `json:"skipped_claims"`
	SuccessRate                float64 `json:"success_rate"`
	TotalApprovedAmount        float64 `json:"total_approved_amount"`
	TotalDeniedAmount          float64 `json:"total_denied_amount"`
	TotalMemberResponsibility  float64 `json:"total_member_responsibility"`
	TotalInsurerResponsibility float64 `json:"total_insurer_responsibility"`
	Metadata                   map[string]string
}

// ArchiveJob writes a terminal job, its claim items, and its errors in one
// transaction. Satisfies batch.Archiver.
func (s *Store) ArchiveJob(ctx context.Context, j *batch.Job) error {
	status := j.CurrentStatus()
	if !status.IsTerminal() {
		return errors.NewInvalidStateError("cannot archive batch job %s in state %s", j.ID, status)
	}

	results := j.ResultsSnapshot()
	if results == nil {
		results = &batch.Results{}
	}
	claims := j.ClaimSnapshots()
	jobErrs := j.ErrorSnapshots()

	metadata, err := json.Marshal(j.Metadata)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal metadata for job %s", j.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin archive transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO batch_jobs (
			id, name, description, status, priority, processing_mode,
			created_at, started_at, completed_at,
			estimated_duration_ms, actual_duration_ms,
			total_claims, completed_claims, failed_claims, skipped_claims,
			success_rate, total_approved_amount, total_denied_amount,
			total_member_responsibility, total_insurer_responsibility, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.Description, string(status), string(j.Priority), string(j.Config.ProcessingMode),
		j.CreatedAt, j.StartedAt, j.CompletedAt,
		j.EstimatedDuration.Milliseconds(), j.ActualDuration.Milliseconds(),
		len(claims), results.CompletedClaims, results.FailedClaims, results.SkippedClaims,
		results.SuccessRate, results.TotalApprovedAmount, results.TotalDeniedAmount,
		results.TotalMemberResponsibility, results.TotalInsurerResponsibility, string(metadata))
	if err != nil {
		return errors.Wrapf(err, "failed to archive batch job %s", j.ID)
	}

	for _, c := range claims {
		var approved float64
		if c.Result != nil {
			approved = c.Result.ApprovedAmount
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO batch_claim_items (
				batch_id, claim_id, status, priority, attempts, error,
				processing_time_ms, approved_amount
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, c.ClaimID, string(c.Status), string(c.Priority), c.Attempts, c.Error,
			c.ProcessingTime.Milliseconds(), approved)
		if err != nil {
			return errors.Wrapf(err, "failed to archive claim %s of job %s", c.ClaimID, j.ID)
		}
	}

	for _, e := range jobErrs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_errors (
				batch_id, claim_id, error_type, message, occurred_at, attempt, retryable
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			j.ID, e.ClaimID, e.ErrorType, e.Message, e.Timestamp, e.Attempt, e.Retryable)
		if err != nil {
			return errors.Wrapf(err, "failed to archive error for job %s", j.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit archive of job %s", j.ID)
	}
	return nil
}

// GetJob retrieves one archived job by id
func (s *Store) GetJob(ctx context.Context, id string) (*ArchivedJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, priority, processing_mode,
		       created_at, started_at, completed_at,
		       estimated_duration_ms, actual_duration_ms,
		       total_claims, completed_claims, failed_claims, skipped_claims,
		       success_rate, total_approved_amount, total_denied_amount,
		       total_member_responsibility, total_insurer_responsibility, metadata
		FROM batch_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("archived batch job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load archived job %s", id)
	}
	return job, nil
}

// ListJobs returns archived jobs, newest completion first, optionally
// filtered by status
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]*ArchivedJob, error) {
	query := `
		SELECT id, name, description, status, priority, processing_mode,
		       created_at, started_at, completed_at,
		       estimated_duration_ms, actual_duration_ms,
		       total_claims, completed_claims, failed_claims, skipped_claims,
		       success_rate, total_approved_amount, total_denied_amount,
		       total_member_responsibility, total_insurer_responsibility, metadata
		FROM batch_jobs`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archived jobs")
	}
	defer rows.Close()

	var jobs []*ArchivedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan archived job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListErrors returns the recorded errors of an archived job in insertion order
func (s *Store) ListErrors(ctx context.Context, batchID string) ([]batch.JobError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_id, error_type, message, occurred_at, attempt, retryable
		FROM batch_errors WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list errors for job %s", batchID)
	}
	defer rows.Close()

	var out []batch.JobError
	for rows.Next() {
		var e batch.JobError
		if err := rows.Scan(&e.ClaimID, &e.ErrorType, &e.Message, &e.Timestamp, &e.Attempt, &e.Retryable); err != nil {
			return nil, errors.Wrap(err, "failed to scan archived error")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListClaimItems returns the archived claim audit trail of a job
func (s *Store) ListClaimItems(ctx context.Context, batchID string) ([]batch.ClaimItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_id, status, priority, attempts, error, processing_time_ms
		FROM batch_claim_items WHERE batch_id = ? ORDER BY claim_id`, batchID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list claims for job %s", batchID)
	}
	defer rows.Close()

	var out []batch.ClaimItem
	for rows.Next() {
		var c batch.ClaimItem
		var status, priority string
		var processingMs int64
		if err := rows.Scan(&c.ClaimID, &status, &priority, &c.Attempts, &c.Error, &processingMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan archived claim")
		}
		c.Status = batch.ClaimStatus(status)
		c.Priority = batch.Priority(priority)
		c.ProcessingTime = time.Duration(processingMs) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes archived jobs whose completion predates the cutoff.
// Claim items and errors cascade.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM batch_jobs WHERE completed_at < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old archived jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted jobs")
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*ArchivedJob, error) {
	var job ArchivedJob
	var estimatedMs, actualMs int64
	var metadata string

	err := row.Scan(
		&job.ID, &job.Name, &job.Description, &job.Status, &job.Priority, &job.ProcessingMode,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&estimatedMs, &actualMs,
		&job.TotalClaims, &job.CompletedClaims, &job.FailedClaims, &job.SkippedClaims,
		&job.SuccessRate, &job.TotalApprovedAmount, &job.TotalDeniedAmount,
		&job.TotalMemberResponsibility, &job.TotalInsurerResponsibility, &metadata)
	if err != nil {
		return nil, err
	}

	job.EstimatedDuration = time.Duration(estimatedMs) * time.Millisecond
	job.ActualDuration = time.Duration(actualMs) * time.Millisecond
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &job.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal job metadata")
		}
	}
	return &job, nil
}
