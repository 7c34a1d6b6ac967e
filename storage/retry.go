package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// retryPolicy bounds the attempts of a backend primitive.
type retryPolicy struct {
	// maxAttempts is the total number of attempts; zero or less runs once.
	maxAttempts int
	sleep       time.Duration
}

func newRetryPolicy(opts interfaces.Options) retryPolicy {
	return retryPolicy{
		maxAttempts: opts.MaxRetryOnFailure,
		sleep:       time.Duration(opts.SleepTimeBeforeRetryOnFailure) * time.Millisecond,
	}
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// exhausts the policy. Between attempts it sleeps for the policy delay; a
// cancelled context ends the wait and returns the last failure.
func withRetry[T any](ctx context.Context, p retryPolicy, log *slog.Logger, op, uri string, onRetry func(), fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !interfaces.IsRetryable(err) {
			return zero, err
		}
		if p.maxAttempts <= 0 || attempt >= p.maxAttempts {
			return zero, storeFailure(op, uri, attempt, err)
		}

		log.Warn("Store operation failed, retrying",
			slog.String("op", op),
			slog.String("path", uri),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", p.maxAttempts),
			slog.Duration("sleep", p.sleep),
			"err", err)
		if onRetry != nil {
			onRetry()
		}

		timer := time.NewTimer(p.sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("Retry wait interrupted",
				slog.String("op", op),
				slog.String("path", uri),
				"err", ctx.Err())
			return zero, storeFailure(op, uri, attempt, err)
		case <-timer.C:
		}
	}
}

// storeFailure wraps the last cause as a StoreFailure carrying the attempt
// count.
func storeFailure(op, uri string, attempts int, cause error) error {
	var se *interfaces.StoreError
	if errors.As(cause, &se) && se.Code == interfaces.CodeStoreFailure {
		out := *se
		out.Attempts = attempts
		if out.URI == "" {
			out.URI = uri
		}
		return &out
	}
	return &interfaces.StoreError{
		Code:     interfaces.CodeStoreFailure,
		Op:       op,
		URI:      uri,
		Attempts: attempts,
		Err:      cause,
	}
}
