package compose

import (
	"context"
	"fmt"
)

// Operators are package functions rather than Sequence methods because Go
// does not support generic methods on generic types.

// Map transforms a sequence element-by-element. An error from fn propagates
// to the consumer and ends the traversal.
func Map[A, B any](src Sequence[A], fn func(context.Context, A) (B, error)) Sequence[B] {
	return New(func() *Cursor[B] {
		cur := src.Iterate()
		return NewCursor(func(ctx context.Context) (B, bool, error) {
			var zero B
			v, ok, err := cur.Next(ctx)
			if err != nil || !ok {
				return zero, false, err
			}
			b, err := fn(ctx, v)
			if err != nil {
				return zero, false, err
			}
			return b, true, nil
		})
	})
}

// Filter keeps only the elements for which keep returns true.
func Filter[T any](src Sequence[T], keep func(T) bool) Sequence[T] {
	return New(func() *Cursor[T] {
		cur := src.Iterate()
		return NewCursor(func(ctx context.Context) (T, bool, error) {
			for {
				v, ok, err := cur.Next(ctx)
				if err != nil || !ok {
					var zero T
					return zero, false, err
				}
				if keep(v) {
					return v, true, nil
				}
			}
		})
	})
}

// Take limits a traversal to the first n elements. n <= 0 yields an empty
// sequence.
func Take[T any](src Sequence[T], n int) Sequence[T] {
	return New(func() *Cursor[T] {
		cur := src.Iterate()
		taken := 0
		return NewCursor(func(ctx context.Context) (T, bool, error) {
			if taken >= n {
				var zero T
				return zero, false, nil
			}
			v, ok, err := cur.Next(ctx)
			if err != nil || !ok {
				var zero T
				return zero, false, err
			}
			taken++
			return v, true, nil
		})
	})
}

// Skip discards the first n elements of each traversal.
func Skip[T any](src Sequence[T], n int) Sequence[T] {
	return New(func() *Cursor[T] {
		cur := src.Iterate()
		skipped := 0
		return NewCursor(func(ctx context.Context) (T, bool, error) {
			for skipped < n {
				_, ok, err := cur.Next(ctx)
				if err != nil || !ok {
					var zero T
					return zero, false, err
				}
				skipped++
			}
			return cur.Next(ctx)
		})
	})
}

// Chain concatenates sequences, yielding all of the first, then all of the
// second, and so on.
func Chain[T any](seqs ...Sequence[T]) Sequence[T] {
	return New(func() *Cursor[T] {
		var cur *Cursor[T]
		idx := 0
		return NewCursor(func(ctx context.Context) (T, bool, error) {
			for {
				if cur == nil {
					if idx >= len(seqs) {
						var zero T
						return zero, false, nil
					}
					cur = seqs[idx].Iterate()
					idx++
				}
				v, ok, err := cur.Next(ctx)
				if err != nil {
					var zero T
					return zero, false, err
				}
				if ok {
					return v, true, nil
				}
				cur = nil
			}
		})
	})
}

// Flatten turns a sequence of arbitrarily nested elements into a flat
// sequence of leaf values, depth-first and left-to-right. An element that is
// a Sequence[any] or a []any is descended into; any other element is a leaf.
//
// Self-referential (cyclic) nesting is not detected and will not terminate.
func Flatten(nested Sequence[any]) Sequence[any] {
	return New(func() *Cursor[any] {
		stack := []*Cursor[any]{nested.Iterate()}
		return NewCursor(func(ctx context.Context) (any, bool, error) {
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				v, ok, err := top.Next(ctx)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					stack = stack[:len(stack)-1]
					continue
				}
				switch inner := v.(type) {
				case Sequence[any]:
					stack = append(stack, inner.Iterate())
				case []any:
					stack = append(stack, FromSlice(inner).Iterate())
				default:
					return v, true, nil
				}
			}
			return nil, false, nil
		})
	})
}

// Window produces overlapping fixed-size windows over src, sliding by one
// element per step. A source with fewer than size elements yields nothing.
// Each yielded window is a fresh slice owned by the consumer.
// size <= 0 fails with ErrInvalidArgument at the first Next.
func Window[T any](src Sequence[T], size int) Sequence[[]T] {
	return New(func() *Cursor[[]T] {
		cur := src.Iterate()
		var window []T
		return NewCursor(func(ctx context.Context) ([]T, bool, error) {
			if size <= 0 {
				return nil, false, fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidArgument, size)
			}

			// First pull fills the whole window; later pulls slide it by one.
			if window == nil {
				window = make([]T, 0, size)
				for len(window) < size {
					v, ok, err := cur.Next(ctx)
					if err != nil {
						return nil, false, err
					}
					if !ok {
						return nil, false, nil
					}
					window = append(window, v)
				}
			} else {
				v, ok, err := cur.Next(ctx)
				if err != nil || !ok {
					return nil, false, err
				}
				copy(window, window[1:])
				window[size-1] = v
			}

			out := make([]T, size)
			copy(out, window)
			return out, true, nil
		})
	})
}

// Batch produces consecutive, non-overlapping chunks of up to size elements.
// The final chunk may be shorter if the source runs out early.
// size <= 0 fails with ErrInvalidArgument at the first Next.
func Batch[T any](src Sequence[T], size int) Sequence[[]T] {
	return New(func() *Cursor[[]T] {
		cur := src.Iterate()
		return NewCursor(func(ctx context.Context) ([]T, bool, error) {
			if size <= 0 {
				return nil, false, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidArgument, size)
			}

			var chunk []T
			for len(chunk) < size {
				v, ok, err := cur.Next(ctx)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					break
				}
				chunk = append(chunk, v)
			}
			if len(chunk) == 0 {
				return nil, false, nil
			}
			return chunk, true, nil
		})
	})
}
