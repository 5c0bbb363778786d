// Package wait implements the bounded-retry liveness probe used after a
// deployment starts its remote process, before a Runtime is handed back to
// the caller.
package wait

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned when a deployment never reports alive within
// the configured deadline.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait: deployment did not become alive within %s", e.Elapsed)
}

// Probe reports whether the thing being waited on is alive. A non-nil
// error means the thing being waited on has definitively failed (e.g. the
// container process exited) and further retries would be pointless; the
// caller should stop immediately rather than keep polling.
type Probe func(ctx context.Context) (bool, error)

const (
	defaultRetryInterval = 100 * time.Millisecond
	perProbeTimeout      = 2 * time.Second
)

// Until polls probe until it reports alive, the context is canceled, a
// fatal probe error is returned, or totalTimeout elapses. Each individual
// probe call is bounded by its own short deadline so a wedged remote
// cannot eat the whole startup budget in one call.
func Until(ctx context.Context, totalTimeout time.Duration, probe Probe) error {
	deadline := time.Now().Add(totalTimeout)
	start := time.Now()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, perProbeTimeout)
		alive, err := probe(probeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("wait: probe reported a fatal error: %w", err)
		}
		if alive {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultRetryInterval):
		}
	}
}
