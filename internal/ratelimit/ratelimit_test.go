package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(window time.Duration, max int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(window, max)
	l.now = clock.now
	return l, clock
}

func TestLimiter_WindowScenario(t *testing.T) {
	l, clock := newTestLimiter(60*time.Second, 100)

	for i := 1; i <= 100; i++ {
		res := l.Allow("client-1")
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if res.Remaining != 100-i {
			t.Fatalf("request %d: Remaining = %d, want %d", i, res.Remaining, 100-i)
		}
	}

	// The 101st is rejected and the count does not advance.
	res := l.Allow("client-1")
	if res.Allowed {
		t.Fatal("101st request should be rejected")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if got := res.RetryAfter(clock.t); got != 60*time.Second {
		t.Errorf("RetryAfter = %v, want 60s", got)
	}

	// After the window resets a new bucket opens.
	clock.t = clock.t.Add(61 * time.Second)
	res = l.Allow("client-1")
	if !res.Allowed {
		t.Fatal("request after window expiry should be allowed")
	}
	if res.Remaining != 99 {
		t.Errorf("Remaining = %d, want 99", res.Remaining)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	if res := l.Allow("a"); !res.Allowed {
		t.Fatal("first request for key a should be allowed")
	}
	if res := l.Allow("a"); res.Allowed {
		t.Fatal("second request for key a should be rejected")
	}
	if res := l.Allow("b"); !res.Allowed {
		t.Fatal("key b should have its own window")
	}
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 2)

	l.Allow("k")
	before := l.Check("k")
	after := l.Check("k")

	if before.Remaining != 1 || after.Remaining != 1 {
		t.Errorf("Check consumed requests: %d then %d", before.Remaining, after.Remaining)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	l.Allow("k")
	l.Reset("k")

	if res := l.Allow("k"); !res.Allowed {
		t.Fatal("request after Reset should be allowed")
	}
}

func TestResult_RetryAfterAllowed(t *testing.T) {
	res := Result{Allowed: true, ResetAt: time.Now().Add(time.Hour)}
	if got := res.RetryAfter(time.Now()); got != 0 {
		t.Errorf("RetryAfter on allowed result = %v, want 0", got)
	}
}
