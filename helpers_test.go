package compose_test

import (
	"context"
	"sync/atomic"
)

// mockComputation implements Computation for testing
type mockComputation struct {
	computeFunc func(ctx context.Context, req string) (string, error)
	callCount   atomic.Int32
}

func (m *mockComputation) Compute(ctx context.Context, req string) (string, error) {
	m.callCount.Add(1)
	return m.computeFunc(ctx, req)
}

func (m *mockComputation) getCallCount() int {
	return int(m.callCount.Load())
}

// mockErrorClassifier for testing
type mockErrorClassifier struct {
	isRetryableFunc func(err error) bool
}

func (m *mockErrorClassifier) IsRetryable(err error) bool {
	return m.isRetryableFunc(err)
}
