// Package compose provides lazy sequences and generic call wrappers for Go.
// It has two independent halves that share one design idiom: a policy layered
// over a pure computation.
//
// The sequence half (Sequence, Cursor and the operators Flatten, Window,
// Batch, Map, Filter, Take, Chain) produces values on demand without
// materializing the whole sequence, and distinguishes restartable sequences
// from single-use traversals.
//
// The wrapper half (MemoWrapper, RetryWrapper, CircuitBreakerWrapper)
// decorates any Computation with caching, bounded retry, or circuit breaking
// without changing its single-call contract. Wrappers implement Computation
// themselves, so they compose in any order.
package compose

import (
	"context"
)

// Computation defines a generic unit of work that wrappers decorate.
// Type parameters Req and Resp can be any types, making this suitable for
// HTTP calls, database lookups, expensive pure functions, or any other
// operation worth memoizing, retrying, or circuit breaking.
//
// Example:
//
//	type PriceLookup struct {
//	    db *sql.DB
//	}
//
//	func (p *PriceLookup) Compute(ctx context.Context, sku string) (int64, error) {
//	    var price int64
//	    err := p.db.QueryRowContext(ctx, "SELECT price FROM products WHERE sku = $1", sku).Scan(&price)
//	    return price, err
//	}
//
//	// Wrap with memoization and retry
//	lookup := compose.NewMemoWrapper[string, int64](
//	    compose.NewRetryWrapper[string, int64](&PriceLookup{db: db}, compose.WithMaxAttempts(3)),
//	)
type Computation[Req, Resp any] interface {
	// Compute performs the work for one request.
	// The context should be used to control timeouts and cancellation.
	Compute(ctx context.Context, req Req) (Resp, error)
}

// ComputeFunc adapts a plain function to the Computation interface,
// in the manner of http.HandlerFunc.
type ComputeFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Compute calls f.
func (f ComputeFunc[Req, Resp]) Compute(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}
