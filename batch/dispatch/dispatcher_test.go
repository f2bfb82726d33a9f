package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/errors"
)

type stubStore struct {
	claims map[string]*batch.Claim
}

func (s *stubStore) Get(_ context.Context, id string) (*batch.Claim, error) {
	c, ok := s.claims[id]
	if !ok {
		return nil, errors.NewNotFoundError("claim %s", id)
	}
	return c, nil
}

func (s *stubStore) Query(_ context.Context, _ batch.ClaimFilter) ([]*batch.Claim, error) {
	var out []*batch.Claim
	for _, c := range s.claims {
		out = append(out, c)
	}
	return out, nil
}

type gatedAdjudicator struct {
	mu       sync.Mutex
	gate     chan struct{}
	inFlight int
	calls    int
}

func (a *gatedAdjudicator) Process(ctx context.Context, _ string, _ batch.ProcessOptions) (*batch.Result, error) {
	a.mu.Lock()
	a.calls++
	a.inFlight++
	gate := a.gate
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
	return &batch.Result{ApprovedAmount: 50}, nil
}

func newDispatchFixture(t *testing.T, jobCount int) (*batch.Registry, *gatedAdjudicator, []*batch.Job) {
	t.Helper()

	store := &stubStore{claims: make(map[string]*batch.Claim)}
	for i := 0; i < jobCount; i++ {
		id := fmt.Sprintf("CL-%03d", i+1)
		store.claims[id] = &batch.Claim{ID: id, Amount: 1000}
	}

	adj := &gatedAdjudicator{gate: make(chan struct{})}
	registry := batch.NewRegistry(store, adj, batch.RegistryConfig{
		Defaults: batch.Configuration{
			ProcessingMode:   batch.ModeSequential,
			MaxConcurrency:   1,
			FailureThreshold: 100,
		},
	}, nil, nil, nil)

	jobs := make([]*batch.Job, jobCount)
	for i := 0; i < jobCount; i++ {
		id := fmt.Sprintf("CL-%03d", i+1)
		job, err := registry.CreateJob(context.Background(), fmt.Sprintf("job-%d", i+1), "", []string{id}, nil, nil)
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		jobs[i] = job
	}
	return registry, adj, jobs
}

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

func TestDispatcherCapsConcurrentBatches(t *testing.T) {
	t.Log("5 pending jobs, cap 2: never more than 2 running at once, oldest first")

	registry, adj, jobs := newDispatchFixture(t, 5)

	d := New(registry, Config{
		Interval:             5 * time.Millisecond,
		MaxConcurrentBatches: 2,
	}, nil)
	d.Start()
	defer d.Stop()

	if !waitFor(2*time.Second, func() bool { return registry.RunningCount() == 2 }) {
		t.Fatalf("running count = %d, want 2", registry.RunningCount())
	}

	// The two oldest jobs are the ones dispatched
	if jobs[0].CurrentStatus() != batch.JobStatusRunning || jobs[1].CurrentStatus() != batch.JobStatusRunning {
		t.Errorf("oldest two jobs should be running: %s, %s",
			jobs[0].CurrentStatus(), jobs[1].CurrentStatus())
	}
	if jobs[2].CurrentStatus() != batch.JobStatusPending {
		t.Errorf("job 3 status = %s, want still pending under the cap", jobs[2].CurrentStatus())
	}

	// Hold for a few ticks: the cap must not be breached
	time.Sleep(30 * time.Millisecond)
	if got := registry.RunningCount(); got > 2 {
		t.Errorf("running count = %d, cap is 2", got)
	}

	// Release the adjudicator; everything drains
	close(adj.gate)
	if !waitFor(2*time.Second, func() bool {
		s := registry.Stats()
		return s.Completed == 5
	}) {
		t.Fatalf("jobs never drained: %+v", registry.Stats())
	}

	if d.Dispatched() != 5 {
		t.Errorf("dispatched = %d, want 5", d.Dispatched())
	}
}

func TestDispatcherStops(t *testing.T) {
	registry, adj, _ := newDispatchFixture(t, 1)
	close(adj.gate)

	d := New(registry, Config{
		Interval:             5 * time.Millisecond,
		MaxConcurrentBatches: 1,
	}, nil)
	d.Start()

	if !waitFor(2*time.Second, func() bool { return registry.Stats().Completed == 1 }) {
		t.Fatalf("job never completed: %+v", registry.Stats())
	}

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

// stepClock releases one dispatch interval per step call, so the test drives
// the loop without real timers
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	steps chan struct{}
}

func newStepClock() *stepClock {
	return &stepClock{
		now:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		steps: make(chan struct{}),
	}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.steps:
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *stepClock) step() {
	c.steps <- struct{}{}
}

func TestDispatcherTicksThroughInjectedClock(t *testing.T) {
	t.Log("hour-long interval, fake clock: each step dispatches without real waiting")

	registry, adj, jobs := newDispatchFixture(t, 2)

	clock := newStepClock()
	d := New(registry, Config{
		Interval:             time.Hour,
		MaxConcurrentBatches: 1,
	}, clock)
	d.Start()
	defer d.Stop()

	// First tick: job 1 is dispatched and blocks on the adjudicator, so the
	// cap keeps job 2 pending
	clock.step()
	if !waitFor(2*time.Second, func() bool { return jobs[0].CurrentStatus() == batch.JobStatusRunning }) {
		t.Fatalf("job 1 never started after the first tick: %s", jobs[0].CurrentStatus())
	}
	if jobs[1].CurrentStatus() != batch.JobStatusPending {
		t.Fatalf("job 2 status = %s, want still pending under the cap", jobs[1].CurrentStatus())
	}

	// Job 1 finishing frees capacity, but job 2 stays pending until the
	// loop is ticked again
	close(adj.gate)
	if !waitFor(2*time.Second, func() bool { return jobs[0].CurrentStatus() == batch.JobStatusCompleted }) {
		t.Fatalf("job 1 never completed: %s", jobs[0].CurrentStatus())
	}
	if jobs[1].CurrentStatus() != batch.JobStatusPending {
		t.Fatalf("job 2 status = %s, want pending before the second tick", jobs[1].CurrentStatus())
	}

	clock.step()
	if !waitFor(2*time.Second, func() bool { return jobs[1].CurrentStatus() == batch.JobStatusCompleted }) {
		t.Fatalf("job 2 never completed after the second tick: %s", jobs[1].CurrentStatus())
	}

	if d.Dispatched() != 2 {
		t.Errorf("dispatched = %d, want 2", d.Dispatched())
	}
}
