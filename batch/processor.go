package batch

import (
	"context"
	"time"

	"github.com/meridianbenefits/claimbatch/errors"
	"github.com/meridianbenefits/claimbatch/logger"
)

// RateLimiter gates calls to the downstream adjudicator
type RateLimiter interface {
	Allow() error
	Stats() (callsInWindow int, callsRemaining int)
}

// itemProcessor drives a single claim item through execution, timing, retry
// accounting, and error classification.
//
// Retries are awaited in-slot: a retrying item keeps holding its concurrency
// slot through the retry delay, so chunk boundaries see every item fully
// settled before the next chunk starts.
type itemProcessor struct {
	adjudicator Adjudicator
	store       ClaimStore
	clock       Clock
	limiter     RateLimiter // nil disables rate limiting
	notify      func(*Job)
}

// process runs one claim item to a terminal item state
// (completed, failed, or skipped)
func (p *itemProcessor) process(ctx context.Context, j *Job, item *ClaimItem) {
	if j.Config.ValidateBeforeProcessing {
		if skipped := p.validate(ctx, j, item); skipped {
			return
		}
	}

	maxAttempts := 1
	if j.Config.EnableAutoRetry {
		maxAttempts += j.Config.RetryAttempts
	}

	for {
		p.markProcessing(j, item)

		res, elapsed, err := p.attempt(ctx, j, item)
		if err == nil {
			p.markCompleted(j, item, res, elapsed)
			return
		}

		j.mu.Lock()
		item.ProcessingTime = elapsed
		item.Error = err.Error()
		attempts := item.Attempts
		j.mu.Unlock()

		if attempts < maxAttempts {
			p.markRetrying(j, item)
			if sleepErr := p.clock.Sleep(ctx, j.Config.RetryDelay); sleepErr != nil {
				// Job cancelled while waiting on the retry delay
				p.markFailed(j, item, err, attempts, maxAttempts)
				return
			}
			continue
		}

		p.markFailed(j, item, err, attempts, maxAttempts)
		return
	}
}

// attempt makes one adjudicator call, honoring the per-claim timeout and the
// rate limiter
func (p *itemProcessor) attempt(ctx context.Context, j *Job, item *ClaimItem) (*Result, time.Duration, error) {
	if p.limiter != nil {
		for p.limiter.Allow() != nil {
			if err := p.clock.Sleep(ctx, time.Second); err != nil {
				return nil, 0, errors.Wrap(err, "cancelled while rate limited")
			}
		}
	}

	callCtx := ctx
	if j.Config.TimeoutPerClaim > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, j.Config.TimeoutPerClaim)
		defer cancel()
	}

	start := p.clock.Now()
	res, err := p.adjudicator.Process(callCtx, item.ClaimID, ProcessOptions{
		WorkflowType:   "batch_adjudication",
		Priority:       item.Priority,
		ProcessingMode: j.Config.ProcessingMode,
	})
	elapsed := p.clock.Now().Sub(start)

	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		err = errors.Wrapf(errors.ErrTimeout, "claim %s timed out after %s", item.ClaimID, j.Config.TimeoutPerClaim)
	}
	return res, elapsed, err
}

// validate re-checks the claim against the store. A claim that has vanished
// since job creation is skipped, not failed. Returns true if the item was
// skipped.
func (p *itemProcessor) validate(ctx context.Context, j *Job, item *ClaimItem) bool {
	if p.store == nil {
		return false
	}
	if _, err := p.store.Get(ctx, item.ClaimID); err != nil {
		if errors.IsNotFoundError(err) {
			logger.Warnw("Claim vanished before processing, skipping",
				"batch_id", j.ID, "claim_id", item.ClaimID)
			j.mu.Lock()
			item.Status = ClaimStatusSkipped
			item.Error = "claim no longer exists"
			j.recomputeProgressLocked()
			j.mu.Unlock()
			p.notify(j)
			return true
		}
		// Store errors other than not-found are treated as a normal
		// processing failure path: let the attempt loop surface them.
	}
	return false
}

func (p *itemProcessor) markProcessing(j *Job, item *ClaimItem) {
	j.mu.Lock()
	item.Status = ClaimStatusProcessing
	item.Attempts++
	j.recomputeProgressLocked()
	j.mu.Unlock()
	p.notify(j)
}

func (p *itemProcessor) markRetrying(j *Job, item *ClaimItem) {
	j.mu.Lock()
	item.Status = ClaimStatusRetrying
	j.recomputeProgressLocked()
	j.mu.Unlock()
	p.notify(j)
}

func (p *itemProcessor) markCompleted(j *Job, item *ClaimItem, res *Result, elapsed time.Duration) {
	j.mu.Lock()
	item.Status = ClaimStatusCompleted
	item.Result = res
	item.Error = ""
	item.ProcessingTime = elapsed
	j.recomputeProgressLocked()
	j.mu.Unlock()
	p.notify(j)
}

// markFailed records the terminal per-item failure. With skip_failed_claims
// enabled the item ends skipped instead, which keeps it out of the failure
// rate the circuit breaker computes.
func (p *itemProcessor) markFailed(j *Job, item *ClaimItem, err error, attempt, maxAttempts int) {
	j.mu.Lock()
	if j.Config.SkipFailedClaims {
		item.Status = ClaimStatusSkipped
	} else {
		item.Status = ClaimStatusFailed
	}
	item.Error = err.Error()
	j.recomputeProgressLocked()
	j.mu.Unlock()

	j.appendError(&JobError{
		ClaimID:   item.ClaimID,
		ErrorType: classifyError(err),
		Message:   err.Error(),
		Timestamp: p.clock.Now(),
		Attempt:   attempt,
		Retryable: attempt < maxAttempts,
	})
	p.notify(j)
}
