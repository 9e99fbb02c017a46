package compose

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerWrapper wraps a Computation with circuit breaker protection.
// It tracks failures and opens the circuit when too many occur, rejecting
// calls immediately instead of hammering a failing dependency.
type CircuitBreakerWrapper[Req, Resp any] struct {
	comp       Computation[Req, Resp]
	cb         *gobreaker.CircuitBreaker[Resp]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

// NewCircuitBreakerWrapper creates a new circuit breaker wrapper around a
// Computation. It applies the provided options to configure circuit breaker
// behavior.
//
// Example:
//
//	wrapper := compose.NewCircuitBreakerWrapper(
//	    lookup,
//	    compose.WithMaxRequests(5),
//	    compose.WithTimeout(60*time.Second),
//	)
func NewCircuitBreakerWrapper[Req, Resp any](
	comp Computation[Req, Resp],
	opts ...CircuitBreakerOption,
) *CircuitBreakerWrapper[Req, Resp] {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}
	classifier := config.ErrorClassifier

	settings := gobreaker.Settings{
		Name:        "computation",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(fromGobreakerCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			// Errors that should not trip the circuit are not counted as failures.
			return err == nil || !classifier.ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerWrapper[Req, Resp]{
		comp:       comp,
		cb:         gobreaker.NewCircuitBreaker[Resp](settings),
		logger:     config.Logger,
		classifier: classifier,
	}
}

// Compute runs the request through the circuit breaker. If the circuit is
// open, the call is rejected immediately without reaching the wrapped
// computation. Circuit breaker errors are wrapped with jperrors types:
//   - gobreaker.ErrOpenState becomes jperrors.ErrCircuitOpen
//   - gobreaker.ErrTooManyRequests becomes jperrors.ErrCircuitTooManyRequests
func (w *CircuitBreakerWrapper[Req, Resp]) Compute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	resp, err := w.cb.Execute(func() (Resp, error) {
		return w.comp.Compute(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			counts := w.cb.Counts()
			w.logger.Warn("circuit breaker is open, call rejected",
				"error", err,
				"state", w.cb.State(),
				"counts", counts)
			return zero, jperrors.NewCircuitBreakerError(
				"call rejected",
				"compute",
				"open",
				jperrors.WithCause(err),
				jperrors.WithCounts(toJPCounts(counts)),
			)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			w.logger.Debug("circuit breaker in half-open state, too many requests",
				"error", err)
			return zero, jperrors.NewCircuitBreakerError(
				"too many requests in half-open state",
				"compute",
				"half-open",
				jperrors.WithCause(err),
				jperrors.WithCounts(toJPCounts(w.cb.Counts())),
			)
		default:
			w.logger.Debug("computation failed through circuit breaker",
				"error", err,
				"should_trip", w.classifier.ShouldTripCircuit(err))
		}
		return zero, err
	}

	return resp, nil
}

// State returns the current state of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) State() CircuitBreakerState {
	return convertGobreakerState(w.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) Counts() CircuitBreakerCounts {
	return fromGobreakerCounts(w.cb.Counts())
}

// GetHealth returns the health status of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) GetHealth() HealthStatus {
	state := w.State()
	counts := w.Counts()

	var healthy bool
	switch state {
	case StateClosed:
		healthy = true
	case StateHalfOpen:
		healthy = true // Degraded but operational
	case StateOpen:
		healthy = false
	}

	return HealthStatus{
		Healthy:              healthy,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

func fromGobreakerCounts(counts gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func toJPCounts(counts gobreaker.Counts) jperrors.CircuitCounts {
	return jperrors.CircuitCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// convertGobreakerState converts gobreaker.State to our CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// CombineRetryAndCircuitBreaker creates a wrapper with both retry and circuit
// breaker functionality. The circuit breaker is applied first (inner layer)
// so its counts see every physical attempt, then retry is applied (outer
// layer) to absorb transient failures and open-circuit rejections that
// resolve within the backoff horizon.
func CombineRetryAndCircuitBreaker[Req, Resp any](
	comp Computation[Req, Resp],
	retryConfig *RetryConfig,
	cbConfig *CircuitBreakerConfig,
	logger *slog.Logger,
) Computation[Req, Resp] {
	if logger != nil {
		if retryConfig != nil {
			retryConfig.Logger = logger
		}
		if cbConfig != nil {
			cbConfig.Logger = logger
		}
	}

	withCB := NewCircuitBreakerWrapper(comp, func(c *CircuitBreakerConfig) {
		if cbConfig != nil {
			*c = *cbConfig
		}
	})

	return NewRetryWrapper[Req, Resp](withCB, func(c *RetryConfig) {
		if retryConfig != nil {
			*c = *retryConfig
		}
	})
}
