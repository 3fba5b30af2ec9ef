package backup

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is exponential backoff for blob calls
type RetryPolicy struct {
	// MaxAttempts counts the first call; 1 disables retries
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy makes three attempts starting at 100ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// retry runs fn with a per-attempt timeout until it succeeds, the policy is
// exhausted, the parent context ends or the error is not worth retrying
func retry(ctx context.Context, p RetryPolicy, timeout time.Duration, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil || !retryable(ctx, err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrBlobNotFound) && !errors.Is(err, errInvalidHandle)
}
