package batch

import (
	"testing"
	"time"
)

func TestClaimPriorityAssignment(t *testing.T) {
	tests := []struct {
		name      string
		amount    float64
		fraudRisk string
		want      Priority
	}{
		{"large claim is urgent", 60000, "none", PriorityUrgent},
		{"mid-high claim is high", 30000, "none", PriorityHigh},
		{"moderate claim is medium", 15000, "none", PriorityMedium},
		{"small claim is low", 5000, "none", PriorityLow},
		{"confirmed fraud overrides amount", 5000, "confirmed", PriorityUrgent},
		{"high fraud risk overrides amount", 200, "high", PriorityUrgent},
		{"low fraud risk does not override", 5000, "low", PriorityLow},
		{"exactly at urgent threshold stays high", 50000, "none", PriorityHigh},
		{"exactly at medium threshold stays low", 10000, "none", PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClaimPriority(&Claim{ID: "CL-1", Amount: tt.amount, FraudRisk: tt.fraudRisk})
			if got != tt.want {
				t.Errorf("ClaimPriority(amount=%v, fraud=%s) = %s, want %s", tt.amount, tt.fraudRisk, got, tt.want)
			}
		})
	}
}

func TestJobPriority(t *testing.T) {
	items := func(ps ...Priority) []*ClaimItem {
		out := make([]*ClaimItem, len(ps))
		for i, p := range ps {
			out[i] = &ClaimItem{ClaimID: claimID(i), Priority: p}
		}
		return out
	}

	tests := []struct {
		name  string
		items []*ClaimItem
		want  Priority
	}{
		{"any urgent item makes the job urgent", items(PriorityLow, PriorityLow, PriorityUrgent), PriorityUrgent},
		{"thirty percent high makes the job high", items(PriorityHigh, PriorityLow, PriorityLow), PriorityHigh},
		{"below thirty percent high is medium", items(PriorityHigh, PriorityLow, PriorityLow, PriorityLow), PriorityMedium},
		{"no high items is low", items(PriorityLow, PriorityMedium, PriorityLow), PriorityLow},
		{"empty job is low", nil, PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jobPriority(tt.items); got != tt.want {
				t.Errorf("jobPriority = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	seq := estimateDuration(10, Configuration{ProcessingMode: ModeSequential})
	if seq != 10*DefaultAvgClaimTime {
		t.Errorf("sequential estimate = %s, want %s", seq, 10*DefaultAvgClaimTime)
	}

	// 10 items at width 3 means 4 chunks
	par := estimateDuration(10, Configuration{ProcessingMode: ModeParallel, MaxConcurrency: 3})
	if par != 4*DefaultAvgClaimTime {
		t.Errorf("parallel estimate = %s, want %s", par, 4*DefaultAvgClaimTime)
	}

	// Width never exceeds the item count
	small := estimateDuration(2, Configuration{ProcessingMode: ModeParallel, MaxConcurrency: 8})
	if small != DefaultAvgClaimTime {
		t.Errorf("small batch estimate = %s, want %s", small, DefaultAvgClaimTime)
	}

	// A configured per-claim average overrides the default
	custom := estimateDuration(10, Configuration{ProcessingMode: ModeSequential, AvgClaimTime: 500 * time.Millisecond})
	if custom != 5*time.Second {
		t.Errorf("custom average estimate = %s, want 5s", custom)
	}

	if estimateDuration(0, Configuration{}) != 0 {
		t.Error("empty job should have zero estimated duration")
	}
}

func TestSortByPriority(t *testing.T) {
	items := []*ClaimItem{
		{ClaimID: "CL-1", Priority: PriorityLow},
		{ClaimID: "CL-2", Priority: PriorityUrgent},
		{ClaimID: "CL-3", Priority: PriorityMedium},
		{ClaimID: "CL-4", Priority: PriorityHigh},
		{ClaimID: "CL-5", Priority: PriorityUrgent},
	}
	sortByPriority(items)

	want := []string{"CL-2", "CL-5", "CL-4", "CL-3", "CL-1"}
	for i, id := range want {
		if items[i].ClaimID != id {
			t.Fatalf("position %d: got %s, want %s (stable urgent-first order)", i, items[i].ClaimID, id)
		}
	}
}
