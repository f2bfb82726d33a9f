package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianbenefits/claimbatch/logger"
)

// Executor runs one batch job to a terminal or paused state using the job's
// configured processing strategy.
//
// Cancellation and pause are cooperative: they are observed at chunk/tier
// boundaries only, never mid-item. An in-flight adjudicator call always runs
// to completion (or its per-claim timeout).
type Executor struct {
	processor *itemProcessor
	notify    func(*Job)
}

// NewExecutor creates an executor. clock must not be nil; limiter and store
// may be nil (no rate limiting, no pre-flight validation).
func NewExecutor(adjudicator Adjudicator, store ClaimStore, clock Clock, limiter RateLimiter, notify func(*Job)) *Executor {
	if notify == nil {
		notify = func(*Job) {}
	}
	return &Executor{
		processor: &itemProcessor{
			adjudicator: adjudicator,
			store:       store,
			clock:       clock,
			limiter:     limiter,
			notify:      notify,
		},
		notify: notify,
	}
}

// Run executes the job's remaining work. It returns once the job is
// completed, failed, cancelled, or paused at a boundary.
func (e *Executor) Run(ctx context.Context, j *Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Batch executor panicked", "batch_id", j.ID, "panic", r)
			j.Fail(ErrorTypeSystem, fmt.Sprintf("unexpected executor failure: %v", r))
			e.notify(j)
		}
	}()

	switch j.Config.ProcessingMode {
	case ModeSequential:
		e.runSequential(ctx, j)
	case ModeSmartParallel:
		e.runSmartParallel(ctx, j)
	default:
		e.runParallel(ctx, j)
	}

	// Still running after the strategy loop means every item settled
	// without tripping the breaker or hitting a pause/cancel boundary.
	switch j.CurrentStatus() {
	case JobStatusRunning:
		j.Complete()
		e.notify(j)
	case JobStatusCancelled:
		// Items dispatched before the cancellation have settled by now;
		// the results Cancel froze are stale with respect to them.
		j.refreshFinalResults()
		e.notify(j)
	}
}

// runSequential processes items one at a time. Every item is a boundary.
func (e *Executor) runSequential(ctx context.Context, j *Job) {
	items := e.remainingItems(j)
	if j.Config.GroupByPriority {
		sortByPriority(items)
	}

	for _, item := range items {
		if e.stopAtBoundary(j) {
			return
		}
		e.processor.process(ctx, j, item)
		if e.breakerTripped(j) {
			return
		}
	}
}

// runParallel processes items in fixed-size chunks of
// min(maxConcurrency, remaining), waiting for each whole chunk to settle
// before starting the next
func (e *Executor) runParallel(ctx context.Context, j *Job) {
	remaining := e.remainingItems(j)

	for len(remaining) > 0 {
		if e.stopAtBoundary(j) {
			return
		}

		size := j.Config.MaxConcurrency
		if size < 1 {
			size = 1
		}
		if size > len(remaining) {
			size = len(remaining)
		}
		chunk := remaining[:size]
		remaining = remaining[size:]

		e.processChunk(ctx, j, chunk)

		if e.breakerTripped(j) {
			return
		}
	}
}

// runSmartParallel processes priority tiers in order - {urgent, high}, then
// {medium}, then {low} - with tier-specific chunk sizes. This approximates
// strict priority scheduling without preemption: a running low-priority item
// cannot be interrupted by anything.
func (e *Executor) runSmartParallel(ctx context.Context, j *Job) {
	mc := j.Config.MaxConcurrency
	if mc < 1 {
		mc = 1
	}

	tiers := []struct {
		priorities []Priority
		chunkSize  int
	}{
		{[]Priority{PriorityUrgent, PriorityHigh}, min(2, mc)},
		{[]Priority{PriorityMedium}, min(4, mc)},
		{[]Priority{PriorityLow}, mc},
	}

	items := e.remainingItems(j)
	for _, tier := range tiers {
		var tierItems []*ClaimItem
		for _, item := range items {
			for _, p := range tier.priorities {
				if item.Priority == p {
					tierItems = append(tierItems, item)
					break
				}
			}
		}

		for len(tierItems) > 0 {
			if e.stopAtBoundary(j) {
				return
			}

			size := tier.chunkSize
			if size > len(tierItems) {
				size = len(tierItems)
			}
			chunk := tierItems[:size]
			tierItems = tierItems[size:]

			e.processChunk(ctx, j, chunk)

			if e.breakerTripped(j) {
				return
			}
		}
	}
}

// processChunk dispatches every item in the chunk concurrently and waits for
// the whole chunk to settle, retries included
func (e *Executor) processChunk(ctx context.Context, j *Job, chunk []*ClaimItem) {
	var wg sync.WaitGroup
	for _, item := range chunk {
		wg.Add(1)
		go func(it *ClaimItem) {
			defer wg.Done()
			e.processor.process(ctx, j, it)
		}(item)
	}
	wg.Wait()
}

// stopAtBoundary checks for a cancel or pause request. A pending pause
// request becomes the visible paused state here, once the in-flight chunk
// has fully settled.
func (e *Executor) stopAtBoundary(j *Job) bool {
	stop, pause := j.shouldStop()
	if pause {
		j.markPausedAtBoundary()
		logger.Infow("Batch job paused at boundary", "batch_id", j.ID)
		e.notify(j)
	}
	return stop
}

// breakerTripped aborts the job when the failure rate strictly exceeds the
// configured threshold. Equality does not trip the breaker.
func (e *Executor) breakerTripped(j *Job) bool {
	rate := j.failureRate()
	if rate > j.Config.FailureThreshold {
		msg := fmt.Sprintf("failure rate %.2f%% exceeded threshold %.2f%%, aborting batch", rate, j.Config.FailureThreshold)
		logger.Errorw("Batch circuit breaker tripped",
			"batch_id", j.ID,
			"failure_rate", rate,
			"threshold", j.Config.FailureThreshold)
		j.Fail(ErrorTypeSystem, msg)
		e.notify(j)
		return true
	}
	return false
}

// remainingItems returns the items the executor still owes work: pending
// items, plus any left retrying by an earlier pause
func (e *Executor) remainingItems(j *Job) []*ClaimItem {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*ClaimItem
	for _, c := range j.Claims {
		if c.Status == ClaimStatusPending || c.Status == ClaimStatusRetrying {
			out = append(out, c)
		}
	}
	return out
}
