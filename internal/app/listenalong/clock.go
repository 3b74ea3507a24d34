package listenalong

import (
	"context"
	"time"
)

// Clock abstracts time so the polling loops can be driven without real
// sleeps in tests.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is cancelled. It returns false when
	// the context was cancelled first.
	Sleep(ctx context.Context, d time.Duration) bool
}

// SystemClock is the real-time Clock used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
