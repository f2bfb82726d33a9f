package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meridianbenefits/claimbatch/errors"
)

// fakeClock advances instantly through sleeps so retry delays are
// deterministic and tests never wait on real time
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func (c *fakeClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory ClaimStore
type memStore struct {
	mu     sync.Mutex
	claims map[string]*Claim
}

func newMemStore(claims ...*Claim) *memStore {
	s := &memStore{claims: make(map[string]*Claim)}
	for _, c := range claims {
		s.claims[c.ID] = c
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, errors.NewNotFoundError("claim %s", id)
	}
	return c, nil
}

func (s *memStore) Query(_ context.Context, f ClaimFilter) ([]*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Claim
	for _, c := range s.claims {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.MinAmount != nil && c.Amount < *f.MinAmount {
			continue
		}
		if f.MaxAmount != nil && c.Amount > *f.MaxAmount {
			continue
		}
		if f.MemberID != "" && c.MemberID != f.MemberID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, id)
}

// fakeAdjudicator records calls and concurrency, and fails the claim ids it
// is told to fail
type fakeAdjudicator struct {
	mu            sync.Mutex
	calls         []string
	inFlight      int
	maxInFlight   int
	failIDs       map[string]bool
	failPrefix    string        // fail every claim id with this prefix
	gate          chan struct{} // when set, every call blocks on the gate
	perCallResult *Result
}

func newFakeAdjudicator() *fakeAdjudicator {
	return &fakeAdjudicator{
		failIDs: make(map[string]bool),
		perCallResult: &Result{
			ApprovedAmount:        100,
			MemberResponsibility:  20,
			InsurerResponsibility: 80,
		},
	}
}

func (a *fakeAdjudicator) failClaim(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		a.failIDs[id] = true
	}
}

func (a *fakeAdjudicator) Process(ctx context.Context, claimID string, _ ProcessOptions) (*Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, claimID)
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	gate := a.gate
	fail := a.failIDs[claimID] || (a.failPrefix != "" && strings.HasPrefix(claimID, a.failPrefix))
	res := *a.perCallResult
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, errors.Newf("adjudication rejected claim %s", claimID)
	}
	return &res, nil
}

func (a *fakeAdjudicator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAdjudicator) currentInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

func (a *fakeAdjudicator) peakInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}

func (a *fakeAdjudicator) callOrder() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// fakeLimiter denies the first denials Allow calls, then admits everything
type fakeLimiter struct {
	mu      sync.Mutex
	denials int
	allowed int
}

func (l *fakeLimiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denials > 0 {
		l.denials--
		return errors.Newf("rate limit reached")
	}
	l.allowed++
	return nil
}

func (l *fakeLimiter) Stats() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowed, 0
}

// testConfig returns a baseline job configuration for executor tests
func testConfig(mode ProcessingMode, maxConcurrency int) Configuration {
	return Configuration{
		ProcessingMode:   mode,
		MaxConcurrency:   maxConcurrency,
		RetryAttempts:    0,
		RetryDelay:       5 * time.Second,
		FailureThreshold: 100,
		EnableAutoRetry:  true,
	}
}

// testItems builds n pending claim items CL-001..CL-n with the given priority
func testItems(n int, p Priority) []*ClaimItem {
	items := make([]*ClaimItem, n)
	for i := range items {
		items[i] = &ClaimItem{
			ClaimID:  claimID(i + 1),
			Status:   ClaimStatusPending,
			Priority: p,
		}
	}
	return items
}

func claimID(n int) string {
	return fmt.Sprintf("CL-%03d", n)
}

// waitFor polls cond until it returns true or the timeout elapses
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
