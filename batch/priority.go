package batch

import (
	"math"
	"sort"
	"time"
)

// Claim amount thresholds for priority assignment
const (
	urgentAmountThreshold = 50000
	highAmountThreshold   = 25000
	mediumAmountThreshold = 10000
)

// DefaultAvgClaimTime is the assumed per-claim processing time used for
// duration estimates when the job configuration does not set one.
const DefaultAvgClaimTime = 2 * time.Second

// priorityRank orders priorities urgent(3) down to low(0)
func priorityRank(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ClaimPriority derives an item's priority from its amount and fraud risk.
// A high or confirmed fraud risk always wins, regardless of amount.
func ClaimPriority(c *Claim) Priority {
	if c.FraudRisk == "high" || c.FraudRisk == "confirmed" {
		return PriorityUrgent
	}
	switch {
	case c.Amount > urgentAmountThreshold:
		return PriorityUrgent
	case c.Amount > highAmountThreshold:
		return PriorityHigh
	case c.Amount > mediumAmountThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// jobPriority derives the job's scheduling priority from its items:
// urgent if any item is urgent; high if at least 30% of items are high;
// medium if any high item exists; low otherwise.
func jobPriority(claims []*ClaimItem) Priority {
	if len(claims) == 0 {
		return PriorityLow
	}
	high := 0
	for _, c := range claims {
		switch c.Priority {
		case PriorityUrgent:
			return PriorityUrgent
		case PriorityHigh:
			high++
		}
	}
	if float64(high)/float64(len(claims)) >= 0.3 {
		return PriorityHigh
	}
	if high > 0 {
		return PriorityMedium
	}
	return PriorityLow
}

// estimateDuration predicts wall time for a job before it runs, using the
// configured assumed per-claim time. Sequential jobs scale with the item
// count, concurrent jobs with the number of chunks.
func estimateDuration(items int, cfg Configuration) time.Duration {
	if items == 0 {
		return 0
	}
	avg := cfg.AvgClaimTime
	if avg <= 0 {
		avg = DefaultAvgClaimTime
	}
	if cfg.ProcessingMode == ModeSequential {
		return time.Duration(items) * avg
	}
	width := cfg.MaxConcurrency
	if width > items {
		width = items
	}
	if width < 1 {
		width = 1
	}
	chunks := int(math.Ceil(float64(items) / float64(width)))
	return time.Duration(chunks) * avg
}

// sortByPriority orders items urgent first, stably, for the sequential
// strategy with group_by_priority enabled
func sortByPriority(items []*ClaimItem) {
	sort.SliceStable(items, func(i, k int) bool {
		return priorityRank(items[i].Priority) > priorityRank(items[k].Priority)
	})
}
