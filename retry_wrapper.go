package compose

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryWrapper wraps a Computation with bounded retry on transient failures.
// The default strategy is linear backoff (delay = InitialDelay * attempt);
// constant, exponential, and fibonacci strategies with jitter are available
// through options. Non-retryable errors (per the configured ErrorClassifier)
// propagate immediately without consuming further attempts. When attempts are
// exhausted, the last error is returned wrapped in an AttemptsError carrying
// the attempt count. Cancellation of the caller's context during backoff
// returns a CancelledError rather than continuing to retry.
type RetryWrapper[Req, Resp any] struct {
	comp       Computation[Req, Resp]
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryWrapper creates a new retry wrapper around a Computation.
// It applies the provided options to configure retry behavior.
//
// Example:
//
//	wrapper := compose.NewRetryWrapper(
//	    lookup,
//	    compose.WithMaxAttempts(5),
//	    compose.WithLinearBackoff(100*time.Millisecond, 2*time.Second),
//	)
func NewRetryWrapper[Req, Resp any](
	comp Computation[Req, Resp],
	opts ...RetryOption,
) *RetryWrapper[Req, Resp] {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	return &RetryWrapper[Req, Resp]{
		comp:       comp,
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		stats:      &retryStats{},
	}
}

// Compute performs the request with retry logic.
// It retries retryable errors up to MaxAttempts times using the configured
// backoff strategy.
func (w *RetryWrapper[Req, Resp]) Compute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	if w.config.MaxAttempts <= 0 {
		return zero, fmt.Errorf("%w: max attempts must be positive", ErrInvalidArgument)
	}

	// Check if parent context is already done before attempting anything
	select {
	case <-ctx.Done():
		w.logger.Warn("context already done before computation (expected condition)",
			"error", ctx.Err())
		return zero, &CancelledError{Err: ctx.Err(), Attempts: 0}
	default:
	}

	var response Resp
	var attempts int

	backoff := w.getBackoffStrategy()

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		// Track attempt and calculate retries (attempts after the first)
		w.stats.mu.Lock()
		w.stats.totalAttempts++
		if attempts > 1 {
			w.stats.totalRetries++
		}
		w.stats.lastAttemptTime = time.Now()
		w.stats.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := w.comp.Compute(ctx, req)
		if err == nil {
			if attempts > 1 {
				w.logger.Info("computation succeeded after retry",
					"attempts", attempts)
			}
			response = resp
			return nil
		}

		if !w.classifier.IsRetryable(err) {
			w.logger.Debug("non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		w.logger.Debug("retrying computation after delay",
			"attempt", attempts,
			"error", err)

		// The hook observes backoff sleeps; the final attempt has none.
		if attempts < w.config.MaxAttempts {
			w.fireHook(attempts, err)
		}

		// Return retryable error to continue retry loop
		return retry.RetryableError(err)
	})
	if err != nil {
		err = w.annotate(err, attempts)
		w.logger.Warn("computation failed after retries",
			"attempts", attempts,
			"error", err)
		w.stats.mu.Lock()
		w.stats.totalFailures++
		w.stats.lastError = err
		w.stats.mu.Unlock()
		return zero, err
	}

	w.stats.mu.Lock()
	w.stats.totalSuccesses++
	w.stats.mu.Unlock()

	return response, nil
}

// annotate wraps the final error from the retry loop: cancellations become
// CancelledError, exhausted retryable failures become AttemptsError, and
// non-retryable errors pass through untouched.
func (w *RetryWrapper[Req, Resp]) annotate(err error, attempts int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancelledError{Err: err, Attempts: attempts}
	}
	if attempts >= w.config.MaxAttempts && w.classifier.IsRetryable(err) {
		return &AttemptsError{Err: err, Attempts: attempts}
	}
	return err
}

// fireHook invokes the configured RetryHook, isolating the caller from
// anything the hook does wrong.
func (w *RetryWrapper[Req, Resp]) fireHook(attempt int, err error) {
	hook := w.config.Hook
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("retry hook panicked",
				"attempt", attempt,
				"panic", r)
		}
	}()
	hook(attempt, err)
}

// getBackoffStrategy returns the appropriate backoff strategy based on configuration.
// Note: retry.Do() counts the initial attempt, so MaxAttempts-1 is passed to WithMaxRetries.
func (w *RetryWrapper[Req, Resp]) getBackoffStrategy() retry.Backoff {
	// Validate MaxAttempts to prevent overflow in conversions
	maxAttempts := w.config.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if maxAttempts > 1000 { // Cap at reasonable upper bound
		maxAttempts = 1000
	}

	// Calculate retry attempts (subtract 1 because Do() counts initial attempt)
	maxRetries := maxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	switch w.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.BackoffFunc(func() (time.Duration, bool) {
				// Add jitter to prevent thundering herd using crypto/rand
				jitterMax := int64(w.config.InitialDelay / 10)
				if jitterMax <= 0 {
					jitterMax = 1
				}
				jitterBig, err := rand.Int(rand.Reader, big.NewInt(jitterMax))
				if err != nil {
					// Fallback to no jitter if crypto/rand fails
					return w.config.InitialDelay, false
				}
				jitter := time.Duration(jitterBig.Int64())
				return w.config.InitialDelay + jitter, false
			}),
		)

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					retry.NewFibonacci(w.config.InitialDelay),
				),
			),
		)

	case RetryStrategyExponential:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					w.newConfigurableExponential(),
				),
			),
		)

	default:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.WithCappedDuration(
				w.config.MaxDelay,
				w.newLinear(),
			),
		)
	}
}

// newLinear implements linear backoff: the delay before retry N is
// InitialDelay * N.
func (w *RetryWrapper[Req, Resp]) newLinear() retry.Backoff {
	attempt := int64(0)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		delay := time.Duration(attempt) * w.config.InitialDelay
		if delay < 0 { // overflow
			return w.config.MaxDelay, false
		}
		return delay, false
	})
}

// newConfigurableExponential creates a custom exponential backoff using the
// configured multiplier. Unlike retry.NewExponential which always doubles,
// this allows configurable growth rates.
func (w *RetryWrapper[Req, Resp]) newConfigurableExponential() retry.Backoff {
	multiplier := w.config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	// For multiplier of exactly 2.0, use the optimized library implementation
	if multiplier == 2.0 {
		return retry.NewExponential(w.config.InitialDelay)
	}

	attempt := uint64(0)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		// delay = initialDelay * (multiplier ^ attempt)
		delay := float64(w.config.InitialDelay)
		for i := uint64(0); i < attempt; i++ {
			delay *= multiplier
			if delay > float64(1<<63-1) {
				attempt++
				return time.Duration(1<<63 - 1), false
			}
		}
		attempt++
		return time.Duration(delay), false
	})
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any)
	LastError error
}

// GetRetryStats returns a snapshot of retry statistics.
// This method is thread-safe.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   w.stats.totalAttempts,
		TotalRetries:    w.stats.totalRetries,
		TotalSuccesses:  w.stats.totalSuccesses,
		TotalFailures:   w.stats.totalFailures,
		LastAttemptTime: w.stats.lastAttemptTime,
		LastError:       w.stats.lastError,
	}
}
