package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with optional jitter.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	currentDelay time.Duration
	attempts     int
}

// New creates a new Backoff with the specified parameters.
// initialDelay is the delay before the first retry.
// maxDelay is the maximum delay between retries.
// multiplier is the factor by which the delay increases after each retry.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// WithJitter randomizes each wait by up to fraction of the current delay in
// either direction, so that several playback clients contending for the same
// network lock do not retry in lockstep. fraction is clamped to [0, 1].
func (b *Backoff) WithJitter(fraction float64) *Backoff {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	b.jitter = fraction
	return b
}

// Wait waits for the current backoff duration, respecting context cancellation.
// Returns nil if the wait completed successfully, or ctx.Err() if the context was cancelled.
// After a successful wait, the backoff duration is increased for the next call.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.jittered())
	defer timer.Stop()

	select {
	case <-timer.C:
		b.attempts++
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backoff) jittered() time.Duration {
	if b.jitter == 0 {
		return b.currentDelay
	}
	spread := float64(b.currentDelay) * b.jitter
	return time.Duration(float64(b.currentDelay) - spread + rand.Float64()*2*spread)
}

// Reset resets the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
	b.attempts = 0
}

// CurrentDelay returns the current backoff delay.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}

// Attempts returns the number of completed waits since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Retry calls fn until it reports done, returns an error, or ctx ends,
// waiting on b between attempts.
func Retry(ctx context.Context, b *Backoff, fn func(ctx context.Context) (done bool, err error)) error {
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}
