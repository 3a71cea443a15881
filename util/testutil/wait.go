package testutil

import (
	"testing"
	"time"
)

// WaitFor polls a condition function until it returns true or times out.
// It's useful for waiting on asynchronous deliveries in tests.
// The condition is checked every 50ms.
//
// Usage:
//
//	testutil.WaitFor(t, 5*time.Second, "locate responses to arrive", func() bool {
//	    return len(pb.Results()) == expectedCount
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	start := time.Now()
	if condition() {
		return
	}

	tickerInterval := 50 * time.Millisecond
	if timeout < tickerInterval {
		timeout = tickerInterval
	}

	deadline := start.Add(timeout)
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	checkCount := 1
	for range ticker.C {
		checkCount++
		if condition() {
			t.Logf("Condition met after %v (%d attempts): %s", time.Since(start).Round(time.Millisecond), checkCount, message)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v, %d attempts)", message, timeout, checkCount)
		}
	}
}
