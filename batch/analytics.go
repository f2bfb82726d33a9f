package batch

import "time"

// Analytics aggregates outcomes across all jobs created within a trailing
// window of days
type Analytics struct {
	WindowDays            int           `json:"window_days"`
	TotalJobs             int           `json:"total_jobs"`
	CompletedJobs         int           `json:"completed_jobs"`
	FailedJobs            int           `json:"failed_jobs"`
	CancelledJobs         int           `json:"cancelled_jobs"`
	ActiveJobs            int           `json:"active_jobs"` // pending, running, paused
	TotalClaims           int           `json:"total_claims"`
	CompletedClaims       int           `json:"completed_claims"`
	FailedClaims          int           `json:"failed_claims"`
	TotalApprovedAmount   float64       `json:"total_approved_amount"`
	SuccessRate           float64       `json:"success_rate"` // completed claims / total claims * 100
	AverageProcessingTime time.Duration `json:"average_processing_time"`
}

// GetAnalytics computes aggregate statistics over jobs created within the
// last windowDays days
func (r *Registry) GetAnalytics(windowDays int) Analytics {
	cutoff := r.clock.Now().AddDate(0, 0, -windowDays)

	a := Analytics{WindowDays: windowDays}

	var finishedClaims int
	var elapsed time.Duration
	for _, job := range r.ListJobs() {
		job.mu.Lock()
		created := job.CreatedAt
		status := job.Status
		claims := job.Claims
		if created.Before(cutoff) {
			job.mu.Unlock()
			continue
		}

		a.TotalJobs++
		switch status {
		case JobStatusCompleted:
			a.CompletedJobs++
		case JobStatusFailed:
			a.FailedJobs++
		case JobStatusCancelled:
			a.CancelledJobs++
		default:
			a.ActiveJobs++
		}

		a.TotalClaims += len(claims)
		for _, c := range claims {
			switch c.Status {
			case ClaimStatusCompleted:
				a.CompletedClaims++
				if c.Result != nil {
					a.TotalApprovedAmount += c.Result.ApprovedAmount
				}
			case ClaimStatusFailed:
				a.FailedClaims++
			}
			if c.Status == ClaimStatusCompleted || c.Status == ClaimStatusFailed {
				finishedClaims++
				elapsed += c.ProcessingTime
			}
		}
		job.mu.Unlock()
	}

	if a.TotalClaims > 0 {
		a.SuccessRate = float64(a.CompletedClaims) / float64(a.TotalClaims) * 100
	}
	if finishedClaims > 0 {
		a.AverageProcessingTime = elapsed / time.Duration(finishedClaims)
	}
	return a
}
