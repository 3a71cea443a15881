package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor_Immediate(t *testing.T) {
	calls := 0
	WaitFor(t, time.Second, "immediate condition", func() bool {
		calls++
		return true
	})
	if calls != 1 {
		t.Fatalf("Expected condition to be checked once, got %d", calls)
	}
}

func TestWaitFor_Eventually(t *testing.T) {
	var ready atomic.Bool
	time.AfterFunc(100*time.Millisecond, func() { ready.Store(true) })

	WaitFor(t, 5*time.Second, "flag to be set", ready.Load)
}
