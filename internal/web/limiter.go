package web

// limiter.go bounds how many multipart bodies are parsed at once.
//
// Parsing an upload holds its files in memory until they are staged, so the
// limiter uses a semaphore to cap concurrent intake. When all slots are taken,
// new requests wait up to maxWait before failing with errIntakeBusy.
// WaitForDrain lets shutdown wait for in-flight intake to finish.

import (
	"context"
	"sync/atomic"
	"time"
)

// intakeLimiter controls concurrent upload parsing using a semaphore.
type intakeLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

func newIntakeLimiter(maxConcurrent int, maxWait time.Duration) *intakeLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &intakeLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// acquire takes a slot. The caller must call release exactly once after a
// nil return.
func (l *intakeLimiter) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-waitCtx.Done():
		// Check if original context was cancelled vs timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errIntakeBusy
	}
}

func (l *intakeLimiter) release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of requests currently being parsed.
func (l *intakeLimiter) Active() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no intake is in flight or ctx is cancelled.
func (l *intakeLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
