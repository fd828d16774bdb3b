package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// DefaultBackoff is used for store connections at startup.
func DefaultBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// Retry calls fn until it succeeds, ctx is done, or attempts calls have
// failed. The delay between calls grows according to b.
func Retry(ctx context.Context, b *backoff.Backoff, attempts int, logger zerolog.Logger, target string, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if b == nil {
		b = DefaultBackoff()
	}
	for {
		err := fn(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if int(b.Attempt())+1 >= attempts {
			return fmt.Errorf("%s unreachable after %d attempts: %w", target, attempts, err)
		}
		wait := b.Duration()
		logger.Warn().Err(err).Str("target", target).Dur("retry_in", wait).Float64("attempt", b.Attempt()).Msg("connection failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
