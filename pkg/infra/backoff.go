package infra

import (
	"context"
	"sync"
	"time"
)

// Backoff spaces retries by a fixed delay and counts them
type Backoff struct {
	delay    time.Duration
	attempts int
	mu       sync.Mutex
}

func NewFixedBackoff(delay time.Duration) *Backoff {
	return &Backoff{delay: max(delay, 0)}
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	return b.delay
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Wait sleeps for the next delay or returns early with the context error
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
