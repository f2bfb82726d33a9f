package limit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if err := l.Allow(); err != nil {
			t.Fatalf("call %d should be allowed: %v", i+1, err)
		}
	}
	if err := l.Allow(); err == nil {
		t.Fatal("call 4 should be rejected")
	}

	inWindow, remaining := l.Stats()
	if inWindow != 3 || remaining != 0 {
		t.Errorf("stats = %d in window, %d remaining; want 3 and 0", inWindow, remaining)
	}
}

func TestLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(2, func() time.Time { return now })

	if err := l.Allow(); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	if err := l.Allow(); err != nil {
		t.Fatalf("second call rejected: %v", err)
	}
	if err := l.Allow(); err == nil {
		t.Fatal("third call within the window should be rejected")
	}

	// Past the window, capacity returns
	now = now.Add(61 * time.Second)
	if err := l.Allow(); err != nil {
		t.Fatalf("call after window expiry rejected: %v", err)
	}

	inWindow, remaining := l.Stats()
	if inWindow != 1 || remaining != 1 {
		t.Errorf("stats = %d in window, %d remaining; want 1 and 1", inWindow, remaining)
	}
}

func TestLimiterPartialExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(2, func() time.Time { return now })

	_ = l.Allow()
	now = now.Add(30 * time.Second)
	_ = l.Allow()

	// 31 seconds later only the first call has expired
	now = now.Add(31 * time.Second)
	if err := l.Allow(); err != nil {
		t.Fatalf("call after first slot expired rejected: %v", err)
	}
	if err := l.Allow(); err == nil {
		t.Fatal("window still holds two calls, should be rejected")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Allow(); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	if err := l.Allow(); err == nil {
		t.Fatal("second call should be rejected")
	}

	l.Reset()
	if err := l.Allow(); err != nil {
		t.Fatalf("call after reset rejected: %v", err)
	}
}
