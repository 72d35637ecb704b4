package coordinator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

// RetryPolicy bounds retries of transient I/O inside an attempt with
// exponential backoff and jitter. Only errors pkg/errors reports as
// retryable are tried again; credential, data, and checkpoint errors
// surface immediately.
type RetryPolicy struct {
	MaxAttempts         int
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// PolicyFromConfig builds a policy from the retry config section.
func PolicyFromConfig(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:         cfg.MaxAttempts,
		InitialDelay:        cfg.InitialDelay,
		MaxDelay:            cfg.MaxDelay,
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
	}
}

// Execute runs fn up to MaxAttempts times, backing off between tries.
//
// Non-retryable errors return unchanged on the first occurrence. Exhaustion
// returns the last error wrapped with its own type, so errors.Is and
// errors.IsType still see through it. Cancellation is honored between tries,
// never mid-call: a running fn always completes its current try.
func (rp *RetryPolicy) Execute(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !errors.IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled,
				fmt.Sprintf("%s canceled while waiting to retry", op))
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, errors.TypeOf(lastErr),
		fmt.Sprintf("%s failed after %d attempts", op, rp.MaxAttempts))
}

// delay computes the backoff before retry number attempt (zero-based).
func (rp *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if d > float64(rp.MaxDelay) {
		d = float64(rp.MaxDelay)
	}

	if rp.RandomizationFactor > 0 {
		delta := d * rp.RandomizationFactor
		d = d - delta + rand.Float64()*2*delta
	}

	return time.Duration(d)
}
