package compose_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	compose "github.com/JohnPlummer/jp-go-compose"
)

// mockBreakerComputation is a mutex-guarded mock for breaker tests, where the
// compute function is swapped mid-test.
type mockBreakerComputation struct {
	mu          sync.Mutex
	computeFunc func(ctx context.Context, req string) (string, error)
	callCount   int
}

func (m *mockBreakerComputation) Compute(ctx context.Context, req string) (string, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.computeFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

func (m *mockBreakerComputation) setComputeFunc(fn func(ctx context.Context, req string) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computeFunc = fn
}

func (m *mockBreakerComputation) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

var _ = Describe("CircuitBreakerWrapper", func() {
	var (
		ctx    context.Context
		comp   *mockBreakerComputation
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		comp = &mockBreakerComputation{
			computeFunc: func(ctx context.Context, req string) (string, error) {
				return "success", nil
			},
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("Default configuration", func() {
		It("creates a wrapper in the closed state", func() {
			wrapper := compose.NewCircuitBreakerWrapper[string, string](comp, compose.WithCircuitBreakerLogger(logger))
			Expect(wrapper).NotTo(BeNil())
			Expect(wrapper.State()).To(Equal(compose.StateClosed))
		})

		It("stays closed through successful calls", func() {
			wrapper := compose.NewCircuitBreakerWrapper[string, string](comp, compose.WithCircuitBreakerLogger(logger))

			for i := 0; i < 5; i++ {
				resp, err := wrapper.Compute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
			}

			Expect(wrapper.State()).To(Equal(compose.StateClosed))
			Expect(wrapper.Counts().TotalSuccesses).To(Equal(uint32(5)))
		})
	})

	Describe("Tripping", func() {
		It("opens after consecutive failures and rejects without calling the computation", func() {
			boom := errors.New("downstream down")
			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "", boom
			})

			wrapper := compose.NewCircuitBreakerWrapper[string, string](
				comp,
				compose.WithReadyToTrip(func(counts compose.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 3
				}),
				compose.WithTimeout(time.Minute),
				compose.WithCircuitBreakerLogger(logger),
			)

			for i := 0; i < 3; i++ {
				_, err := wrapper.Compute(ctx, "test")
				Expect(err).To(MatchError(boom))
			}
			Expect(wrapper.State()).To(Equal(compose.StateOpen))

			callsBefore := comp.getCallCount()
			_, err := wrapper.Compute(ctx, "test")
			Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeTrue())
			Expect(comp.getCallCount()).To(Equal(callsBefore))
		})

		It("does not count errors the classifier clears as failures", func() {
			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "", errors.New("always trips by default")
			})

			wrapper := compose.NewCircuitBreakerWrapper[string, string](
				comp,
				compose.WithCircuitBreakerErrorClassifier(neverTrip{}),
				compose.WithReadyToTrip(func(counts compose.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 1
				}),
				compose.WithCircuitBreakerLogger(logger),
			)

			for i := 0; i < 5; i++ {
				_, err := wrapper.Compute(ctx, "test")
				Expect(err).To(HaveOccurred())
			}
			Expect(wrapper.State()).To(Equal(compose.StateClosed))
		})
	})

	Describe("Recovery", func() {
		It("transitions open -> half-open -> closed as the downstream recovers", func() {
			boom := errors.New("downstream down")
			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "", boom
			})

			wrapper := compose.NewCircuitBreakerWrapper[string, string](
				comp,
				compose.WithReadyToTrip(func(counts compose.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 2
				}),
				compose.WithTimeout(100*time.Millisecond),
				compose.WithMaxRequests(1),
				compose.WithCircuitBreakerLogger(logger),
			)

			for i := 0; i < 2; i++ {
				_, _ = wrapper.Compute(ctx, "test")
			}
			Expect(wrapper.State()).To(Equal(compose.StateOpen))

			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "recovered", nil
			})

			Eventually(func() compose.CircuitBreakerState {
				return wrapper.State()
			}, time.Second, 20*time.Millisecond).Should(Equal(compose.StateHalfOpen))

			resp, err := wrapper.Compute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(Equal("recovered"))
			Expect(wrapper.State()).To(Equal(compose.StateClosed))
		})
	})

	Describe("GetHealth", func() {
		It("reports healthy while closed", func() {
			wrapper := compose.NewCircuitBreakerWrapper[string, string](comp, compose.WithCircuitBreakerLogger(logger))

			_, err := wrapper.Compute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())

			health := wrapper.GetHealth()
			Expect(health.Healthy).To(BeTrue())
			Expect(health.State).To(Equal("closed"))
			Expect(health.TotalSuccesses).To(Equal(uint32(1)))
		})

		It("reports unhealthy while open", func() {
			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "", errors.New("downstream down")
			})

			wrapper := compose.NewCircuitBreakerWrapper[string, string](
				comp,
				compose.WithReadyToTrip(func(counts compose.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 1
				}),
				compose.WithTimeout(time.Minute),
				compose.WithCircuitBreakerLogger(logger),
			)

			_, _ = wrapper.Compute(ctx, "test")

			health := wrapper.GetHealth()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.State).To(Equal("open"))
		})
	})

	Describe("State change handler", func() {
		It("reports transitions with readable state names", func() {
			comp.setComputeFunc(func(ctx context.Context, req string) (string, error) {
				return "", errors.New("downstream down")
			})

			var mu sync.Mutex
			var transitions []string

			wrapper := compose.NewCircuitBreakerWrapper[string, string](
				comp,
				compose.WithReadyToTrip(func(counts compose.CircuitBreakerCounts) bool {
					return counts.ConsecutiveFailures >= 1
				}),
				compose.WithStateChangeHandler(func(name string, from, to compose.CircuitBreakerState) {
					mu.Lock()
					transitions = append(transitions, from.String()+"->"+to.String())
					mu.Unlock()
				}),
				compose.WithTimeout(time.Minute),
				compose.WithCircuitBreakerLogger(logger),
			)

			_, _ = wrapper.Compute(ctx, "test")

			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(ContainElement("closed->open"))
		})
	})
})

// neverTrip clears every error for circuit breaker purposes.
type neverTrip struct{}

func (neverTrip) ShouldTripCircuit(err error) bool { return false }
