package interact

import (
	"context"
	"fmt"
	"time"
)

// Sleeper waits for d or until ctx is done. Tests swap in a virtual clock.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the timer-backed Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll configures fixed-delay bounded polling.
type Poll struct {
	Attempts int
	Interval time.Duration
	Sleep    Sleeper
}

// Resolve calls fn until it succeeds, waiting Interval between attempts, at
// most Attempts times. The last error is returned wrapped when every
// attempt failed. It is used for things that may not exist yet because the
// host surface is still loading, such as the frame an archive viewer
// replays into.
func Resolve[T any](ctx context.Context, p Poll, fn func(context.Context) (T, error)) (T, error) {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	var (
		zero T
		err  error
	)
	for i := 0; i < p.Attempts; i++ {
		if i > 0 {
			if serr := p.Sleep(ctx, p.Interval); serr != nil {
				return zero, serr
			}
		}
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
	}
	return zero, fmt.Errorf("interact: resolve gave up after %d attempts: %w", p.Attempts, err)
}
