package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestLockMetrics_Parallel(t *testing.T) {
	var mu sync.Mutex
	active := 0
	maxActive := 0

	t.Run("group", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			t.Run("", func(t *testing.T) {
				t.Parallel()
				LockMetrics(t)

				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			})
		}
	})

	if maxActive != 1 {
		t.Fatalf("Expected at most 1 test holding the metrics lock, saw %d", maxActive)
	}
}
