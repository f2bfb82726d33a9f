package batch

import "time"

// RecomputeProgress rebuilds the job's progress snapshot from its item list.
// Called after every item transition.
func (j *Job) RecomputeProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recomputeProgressLocked()
}

// recomputeProgressLocked recounts item statuses and derives percentage,
// average time, ETA and rate. Requires j.mu held.
//
// Items in the retrying state count as processing: they hold a concurrency
// slot while they wait for their retry delay.
func (j *Job) recomputeProgressLocked() {
	p := Progress{TotalClaims: len(j.Claims)}

	var finished int
	var elapsed time.Duration
	for _, c := range j.Claims {
		switch c.Status {
		case ClaimStatusCompleted:
			p.CompletedClaims++
		case ClaimStatusFailed:
			p.FailedClaims++
		case ClaimStatusSkipped:
			p.SkippedClaims++
		case ClaimStatusProcessing, ClaimStatusRetrying:
			p.ProcessingClaims++
		default:
			p.PendingClaims++
		}
		if c.Status == ClaimStatusCompleted || c.Status == ClaimStatusFailed {
			finished++
			elapsed += c.ProcessingTime
		}
	}

	if p.TotalClaims > 0 {
		p.ProgressPercentage = float64(p.CompletedClaims) / float64(p.TotalClaims) * 100
	}
	if finished > 0 {
		p.AverageProcessingTime = elapsed / time.Duration(finished)
		remaining := p.TotalClaims - finished
		p.EstimatedTimeRemaining = time.Duration(remaining) * p.AverageProcessingTime
		if p.AverageProcessingTime > 0 {
			p.CurrentProcessingRate = float64(time.Minute) / float64(p.AverageProcessingTime)
		}
	}

	j.Progress = p
}

// computeResultsLocked aggregates final results over the item list. Monetary
// sums cover completed items only. Requires j.mu held.
func (j *Job) computeResultsLocked() *Results {
	r := &Results{}

	var finished int
	var elapsed time.Duration
	for _, c := range j.Claims {
		switch c.Status {
		case ClaimStatusCompleted:
			r.CompletedClaims++
			if c.Result != nil {
				r.TotalApprovedAmount += c.Result.ApprovedAmount
				r.TotalDeniedAmount += c.Result.DeniedAmount
				r.TotalMemberResponsibility += c.Result.MemberResponsibility
				r.TotalInsurerResponsibility += c.Result.InsurerResponsibility
			}
		case ClaimStatusFailed:
			r.FailedClaims++
		case ClaimStatusSkipped:
			r.SkippedClaims++
		}
		if c.Status == ClaimStatusCompleted || c.Status == ClaimStatusFailed {
			finished++
			elapsed += c.ProcessingTime
		}
	}

	if j.StartedAt != nil {
		end := time.Now()
		if j.CompletedAt != nil {
			end = *j.CompletedAt
		}
		r.TotalProcessingTime = end.Sub(*j.StartedAt)
	}
	if finished > 0 {
		r.AverageClaimTime = elapsed / time.Duration(finished)
	}
	if len(j.Claims) > 0 {
		r.SuccessRate = float64(r.CompletedClaims) / float64(len(j.Claims)) * 100
	}

	return r
}
