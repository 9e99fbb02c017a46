package compose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoWrapper wraps a Computation with at-most-once caching per distinct
// request key. Concurrent callers with the same key collapse into a single
// underlying computation (single-flight); callers with different keys proceed
// independently. Only successful results are stored: a failed computation
// propagates its error and leaves no entry, so the next call with the same
// key computes again. Entries are never evicted.
//
// Note: when concurrent callers share one flight, the computation runs with
// the first caller's context. A caller whose own context is cancelled while
// waiting still receives the shared result or error.
type MemoWrapper[Req, Resp any] struct {
	comp   Computation[Req, Resp]
	keyFn  KeyFunc[Req]
	logger *slog.Logger
	flight singleflight.Group

	mu      sync.RWMutex
	entries map[string]Resp

	stats *memoStats
}

// memoStats tracks memoization statistics.
type memoStats struct {
	mu          sync.RWMutex
	hits        int64
	misses      int64
	shared      int64
	failures    int64
	lastCallKey string
	lastCall    time.Time
}

// NewMemoWrapper creates a memoizing wrapper around a Computation using
// DefaultKeyFunc to derive keys.
//
// Example:
//
//	wrapper := compose.NewMemoWrapper[string, int64](
//	    lookup,
//	    compose.WithMemoLogger(logger),
//	)
func NewMemoWrapper[Req, Resp any](
	comp Computation[Req, Resp],
	opts ...MemoOption,
) *MemoWrapper[Req, Resp] {
	return NewMemoWrapperWithKey(comp, DefaultKeyFunc[Req](), opts...)
}

// NewMemoWrapperWithKey creates a memoizing wrapper with a caller-supplied
// key function. Use this when the request type carries fields that should
// not participate in the key, or cannot be encoded by DefaultKeyFunc.
//
// Example:
//
//	keyFn := func(req *PriceRequest) (string, error) { return req.SKU, nil }
//	wrapper := compose.NewMemoWrapperWithKey(lookup, keyFn)
func NewMemoWrapperWithKey[Req, Resp any](
	comp Computation[Req, Resp],
	keyFn KeyFunc[Req],
	opts ...MemoOption,
) *MemoWrapper[Req, Resp] {
	config := DefaultMemoConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if keyFn == nil {
		keyFn = DefaultKeyFunc[Req]()
	}

	return &MemoWrapper[Req, Resp]{
		comp:    comp,
		keyFn:   keyFn,
		logger:  config.Logger,
		entries: make(map[string]Resp),
		stats:   &memoStats{},
	}
}

// Compute returns the cached result for the request's key, or computes and
// stores it. Exactly one physical call to the wrapped computation occurs per
// distinct key over the wrapper's lifetime, including under concurrency,
// unless that call fails.
func (w *MemoWrapper[Req, Resp]) Compute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	key, err := w.keyFn(req)
	if err != nil {
		w.logger.Debug("memo key derivation failed", "error", err)
		return zero, err
	}

	w.stats.mu.Lock()
	w.stats.lastCallKey = key
	w.stats.lastCall = time.Now()
	w.stats.mu.Unlock()

	if resp, ok := w.lookup(key); ok {
		w.recordHit()
		return resp, nil
	}

	v, err, shared := w.flight.Do(key, func() (any, error) {
		// A concurrent flight may have stored the entry between our lookup
		// and joining the flight.
		if resp, ok := w.lookup(key); ok {
			return resp, nil
		}

		resp, err := w.comp.Compute(ctx, req)
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		w.entries[key] = resp
		w.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		w.logger.Debug("memoized computation failed, nothing cached",
			"key", key,
			"error", err)
		w.stats.mu.Lock()
		w.stats.failures++
		w.stats.mu.Unlock()
		return zero, err
	}

	w.stats.mu.Lock()
	w.stats.misses++
	if shared {
		w.stats.shared++
	}
	w.stats.mu.Unlock()

	return v.(Resp), nil
}

// lookup reads an entry under the read lock.
func (w *MemoWrapper[Req, Resp]) lookup(key string) (Resp, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	resp, ok := w.entries[key]
	return resp, ok
}

func (w *MemoWrapper[Req, Resp]) recordHit() {
	w.stats.mu.Lock()
	w.stats.hits++
	w.stats.mu.Unlock()
}

// Len returns the number of stored entries.
func (w *MemoWrapper[Req, Resp]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// MemoStats holds statistics about memoization operations.
type MemoStats struct {
	// Hits is the number of calls answered from the cache.
	Hits int64

	// Misses is the number of calls that ran (or joined) a computation.
	Misses int64

	// Shared is the number of misses that joined another caller's in-flight
	// computation instead of starting their own.
	Shared int64

	// Failures is the number of calls whose computation failed.
	Failures int64

	// LastCallKey is the key of the most recent call.
	LastCallKey string

	// LastCallTime is the time of the most recent call.
	LastCallTime time.Time
}

// GetMemoStats returns a snapshot of memoization statistics.
// This method is thread-safe.
func (w *MemoWrapper[Req, Resp]) GetMemoStats() MemoStats {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()

	return MemoStats{
		Hits:         w.stats.hits,
		Misses:       w.stats.misses,
		Shared:       w.stats.shared,
		Failures:     w.stats.failures,
		LastCallKey:  w.stats.lastCallKey,
		LastCallTime: w.stats.lastCall,
	}
}

// CombineMemoAndRetry creates a wrapper with both memoization and retry.
// Retry is applied first (inner layer) so transient failures are absorbed
// before the cache sees a result, then memoization is applied (outer layer).
// Only the final successful value is ever cached; intermediate failures stay
// invisible to later callers.
func CombineMemoAndRetry[Req, Resp any](
	comp Computation[Req, Resp],
	retryConfig *RetryConfig,
	logger *slog.Logger,
	memoOpts ...MemoOption,
) Computation[Req, Resp] {
	if logger != nil {
		if retryConfig != nil {
			retryConfig.Logger = logger
		}
		memoOpts = append(memoOpts, WithMemoLogger(logger))
	}

	withRetry := NewRetryWrapper(comp, func(c *RetryConfig) {
		if retryConfig != nil {
			*c = *retryConfig
		}
	})

	return NewMemoWrapper[Req, Resp](withRetry, memoOpts...)
}
