package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Wait(t *testing.T) {
	t.Run("exponential growth", func(t *testing.T) {
		b := New(20*time.Millisecond, 1*time.Second, 2.0)

		if b.CurrentDelay() != 20*time.Millisecond {
			t.Errorf("Expected initial delay 20ms, got %v", b.CurrentDelay())
		}

		ctx := context.Background()
		start := time.Now()
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 18*time.Millisecond {
			t.Errorf("Expected wait around 20ms, got %v", elapsed)
		}

		if b.CurrentDelay() != 40*time.Millisecond {
			t.Errorf("Expected delay 40ms after first wait, got %v", b.CurrentDelay())
		}
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if b.CurrentDelay() != 80*time.Millisecond {
			t.Errorf("Expected delay 80ms after second wait, got %v", b.CurrentDelay())
		}
		if b.Attempts() != 2 {
			t.Errorf("Expected 2 attempts, got %d", b.Attempts())
		}
	})

	t.Run("max delay capping", func(t *testing.T) {
		b := New(30*time.Millisecond, 50*time.Millisecond, 2.0)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if err := b.Wait(ctx); err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
		}
		if b.CurrentDelay() != 50*time.Millisecond {
			t.Errorf("Expected delay to remain at max 50ms, got %v", b.CurrentDelay())
		}
	})

	t.Run("context cancellation during wait", func(t *testing.T) {
		b := New(1*time.Second, 10*time.Second, 2.0)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := b.Wait(ctx)
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled error, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("Expected early cancellation, got %v", elapsed)
		}
		if b.CurrentDelay() != 1*time.Second {
			t.Errorf("Delay must not grow on cancelled wait, got %v", b.CurrentDelay())
		}
	})
}

func TestBackoff_Jitter(t *testing.T) {
	b := New(100*time.Millisecond, time.Second, 2.0).WithJitter(0.5)
	for i := 0; i < 100; i++ {
		d := b.jittered()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}

	if New(time.Millisecond, time.Second, 2).WithJitter(5).jitter != 1 {
		t.Errorf("jitter fraction not clamped to 1")
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := New(5*time.Millisecond, time.Second, 3.0)
	_ = b.Wait(context.Background())
	b.Reset()
	if b.CurrentDelay() != 5*time.Millisecond || b.Attempts() != 0 {
		t.Errorf("Reset did not restore initial state: delay=%v attempts=%d", b.CurrentDelay(), b.Attempts())
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), New(time.Millisecond, 5*time.Millisecond, 2), func(ctx context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
	})

	t.Run("stops on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := Retry(context.Background(), New(time.Millisecond, time.Millisecond, 1), func(ctx context.Context) (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Expected boom, got %v", err)
		}
	})

	t.Run("stops on context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := Retry(ctx, New(5*time.Millisecond, 10*time.Millisecond, 2), func(ctx context.Context) (bool, error) {
			return false, nil
		})
		if err != context.DeadlineExceeded {
			t.Errorf("Expected DeadlineExceeded, got %v", err)
		}
	})
}
