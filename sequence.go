package compose

import (
	"context"
)

// Cursor is one traversal of a lazy sequence. It moves through three states:
// created, active (after the first Next), and exhausted. Once exhausted -
// whether by reaching the end, by a producing step failing, or by context
// cancellation - every further Next returns (zero, false, nil).
//
// Cursors are single-consumer. Calling Next concurrently from multiple
// goroutines is not supported.
type Cursor[T any] struct {
	step func(ctx context.Context) (T, bool, error)
	done bool
}

// NewCursor builds a cursor from a step function. The step returns
// (value, true, nil) to yield a value, (zero, false, nil) on normal
// exhaustion, or a non-nil error when producing the next value failed.
// The Cursor enforces the terminal state; the step is never called again
// after it reports exhaustion or an error.
func NewCursor[T any](step func(ctx context.Context) (T, bool, error)) *Cursor[T] {
	return &Cursor[T]{step: step}
}

// Next advances the traversal one step.
// It returns (value, true, nil) when a value is available and
// (zero, false, nil) once the sequence is exhausted - exhaustion is a normal
// terminal signal, never an error. A failure in the producing step is
// returned as (zero, false, err) and exhausts the cursor.
func (c *Cursor[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if c.done {
		return zero, false, nil
	}

	if err := ctx.Err(); err != nil {
		c.done = true
		return zero, false, err
	}

	v, ok, err := c.step(ctx)
	if err != nil {
		c.done = true
		return zero, false, err
	}
	if !ok {
		c.done = true
		return zero, false, nil
	}
	return v, true, nil
}

// Exhausted reports whether the cursor has reached its terminal state.
func (c *Cursor[T]) Exhausted() bool {
	return c.done
}

// Collect drains the cursor into a slice.
func (c *Cursor[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for {
		v, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, v)
	}
}

// ForEach applies fn to each remaining value. A non-nil error from fn stops
// the traversal and is returned; the cursor keeps its position.
func (c *Cursor[T]) ForEach(ctx context.Context, fn func(T) error) error {
	for {
		v, ok, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Count drains the cursor and returns the number of values it produced.
func (c *Cursor[T]) Count(ctx context.Context) (int, error) {
	var count int
	for {
		_, ok, err := c.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
}

// Sequence is a restartable producer of values computed on demand. Each call
// to Iterate returns a fresh, independent Cursor, so the same Sequence can be
// traversed any number of times. The factory must not carry observable side
// effects that the caller depends on across traversals; that contract is
// documented, not enforced.
type Sequence[T any] struct {
	factory func() *Cursor[T]
}

// New builds a Sequence from a factory of cursors.
//
// Example:
//
//	evens := compose.New(func() *compose.Cursor[int] {
//	    n := 0
//	    return compose.NewCursor(func(ctx context.Context) (int, bool, error) {
//	        n += 2
//	        return n, true, nil // infinite: pair with Take
//	    })
//	})
func New[T any](factory func() *Cursor[T]) Sequence[T] {
	return Sequence[T]{factory: factory}
}

// Iterate starts a fresh traversal.
func (s Sequence[T]) Iterate() *Cursor[T] {
	if s.factory == nil {
		return NewCursor(func(context.Context) (T, bool, error) {
			var zero T
			return zero, false, nil
		})
	}
	return s.factory()
}

// Collect runs one full traversal and returns its values.
func (s Sequence[T]) Collect(ctx context.Context) ([]T, error) {
	return s.Iterate().Collect(ctx)
}

// FromSlice creates a Sequence over a slice. The slice is not copied;
// mutating it between traversals changes what later traversals see.
func FromSlice[T any](items []T) Sequence[T] {
	return New(func() *Cursor[T] {
		idx := 0
		return NewCursor(func(ctx context.Context) (T, bool, error) {
			var zero T
			if idx >= len(items) {
				return zero, false, nil
			}
			v := items[idx]
			idx++
			return v, true, nil
		})
	})
}

// Range creates a Sequence of the integers start, start+1, ..., end-1.
// An empty sequence results when start >= end.
func Range(start, end int) Sequence[int] {
	return New(func() *Cursor[int] {
		current := start
		return NewCursor(func(ctx context.Context) (int, bool, error) {
			if current >= end {
				return 0, false, nil
			}
			v := current
			current++
			return v, true, nil
		})
	})
}
