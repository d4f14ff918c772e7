package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy is the per-page backoff. The interval doubles from base up to
// maxDelay, each wait is jittered across [0, 2*interval], and it stops after
// maxRetries retries or once ctx is done.
func retryPolicy(ctx context.Context, base, maxDelay time.Duration, maxRetries int) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 1
	exp.MaxElapsedTime = 0
	if maxDelay > 0 {
		exp.MaxInterval = maxDelay
	}
	exp.Reset()

	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}
