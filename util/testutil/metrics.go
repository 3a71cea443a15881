package testutil

import (
	"sync"
	"testing"
)

var metricsTestMutex sync.Mutex

// LockMetrics acquires a global lock for metrics-related tests.
// Prometheus collectors in util/metrics are process-wide, so tests that
// Reset() and then read them must not interleave.
//
// The lock is released via t.Cleanup when the test completes.
//
//	func TestPublishMetrics(t *testing.T) {
//	    testutil.LockMetrics(t)
//	    metrics.MessagesPublished.Reset()
//	    // ...
//	}
func LockMetrics(t *testing.T) {
	t.Helper()

	metricsTestMutex.Lock()
	t.Cleanup(func() {
		metricsTestMutex.Unlock()
	})
}
