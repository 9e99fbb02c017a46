package compose_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	compose "github.com/JohnPlummer/jp-go-compose"
)

var _ = Describe("RetryWrapper", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		comp   *mockComputation
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		comp = &mockComputation{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Quiet during tests
		}))
	})

	AfterEach(func() {
		cancel()
	})

	Describe("NewRetryWrapper", func() {
		It("creates a wrapper with default config", func() {
			wrapper := compose.NewRetryWrapper[string, string](comp)
			Expect(wrapper).NotTo(BeNil())
		})

		It("creates a wrapper with custom options", func() {
			wrapper := compose.NewRetryWrapper[string, string](
				comp,
				compose.WithMaxAttempts(5),
				compose.WithLinearBackoff(time.Millisecond, 100*time.Millisecond),
				compose.WithRetryLogger(logger),
			)
			Expect(wrapper).NotTo(BeNil())
		})
	})

	Describe("Compute", func() {
		Context("successful computation", func() {
			It("returns the result on the first attempt", func() {
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "success", nil
				}

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(3),
					compose.WithLinearBackoff(10*time.Millisecond, 100*time.Millisecond),
					compose.WithRetryLogger(logger),
				)

				resp, err := wrapper.Compute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(comp.getCallCount()).To(Equal(1))

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(1)))
				Expect(stats.TotalRetries).To(Equal(int64(0)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
				Expect(stats.TotalFailures).To(Equal(int64(0)))
			})
		})

		Context("retryable errors", func() {
			It("retries and returns the success from the third attempt", func() {
				attemptCount := 0
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					attemptCount++
					if attemptCount < 3 {
						return "", errors.New("transient failure")
					}
					return "success", nil
				}

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(3),
					compose.WithLinearBackoff(time.Millisecond, 10*time.Millisecond),
					compose.WithRetryLogger(logger),
				)

				resp, err := wrapper.Compute(ctx, "test")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(comp.getCallCount()).To(Equal(3))

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(3)))
				Expect(stats.TotalRetries).To(Equal(int64(2)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
			})

			It("annotates the final failure with the attempt count", func() {
				boom := errors.New("still failing")
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "", boom
				}

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(2),
					compose.WithLinearBackoff(time.Millisecond, 10*time.Millisecond),
					compose.WithRetryLogger(logger),
				)

				_, err := wrapper.Compute(ctx, "test")
				Expect(err).To(HaveOccurred())
				Expect(comp.getCallCount()).To(Equal(2))

				var attemptsErr *compose.AttemptsError
				Expect(errors.As(err, &attemptsErr)).To(BeTrue())
				Expect(attemptsErr.Attempts).To(Equal(2))
				Expect(errors.Is(err, boom)).To(BeTrue())

				stats := wrapper.GetRetryStats()
				Expect(stats.TotalFailures).To(Equal(int64(1)))
			})
		})

		Context("non-retryable errors", func() {
			It("propagates immediately without consuming further attempts", func() {
				boom := errors.New("permanent failure")
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "", boom
				}

				classifier := &mockErrorClassifier{
					isRetryableFunc: func(err error) bool { return false },
				}

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(5),
					compose.WithLinearBackoff(time.Millisecond, 10*time.Millisecond),
					compose.WithErrorClassifier(classifier),
					compose.WithRetryLogger(logger),
				)

				_, err := wrapper.Compute(ctx, "test")
				Expect(err).To(MatchError(boom))
				Expect(comp.getCallCount()).To(Equal(1))

				var attemptsErr *compose.AttemptsError
				Expect(errors.As(err, &attemptsErr)).To(BeFalse())
			})
		})

		Context("invalid configuration", func() {
			It("rejects a non-positive max attempts", func() {
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "never", nil
				}

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(0),
					compose.WithRetryLogger(logger),
				)

				_, err := wrapper.Compute(ctx, "test")
				Expect(errors.Is(err, compose.ErrInvalidArgument)).To(BeTrue())
				Expect(comp.getCallCount()).To(Equal(0))
			})
		})

		Context("cancellation", func() {
			It("stops retrying and reports a CancelledError when the context is cancelled during backoff", func() {
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "", errors.New("transient failure")
				}

				callCtx, callCancel := context.WithCancel(ctx)
				defer callCancel()
				time.AfterFunc(50*time.Millisecond, callCancel)

				wrapper := compose.NewRetryWrapper[string, string](
					comp,
					compose.WithMaxAttempts(10),
					compose.WithConstantBackoff(5*time.Second),
					compose.WithRetryLogger(logger),
				)

				_, err := wrapper.Compute(callCtx, "test")
				Expect(err).To(HaveOccurred())

				var cancelledErr *compose.CancelledError
				Expect(errors.As(err, &cancelledErr)).To(BeTrue())
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
				Expect(comp.getCallCount()).To(Equal(1))
			})

			It("fails fast when the context is already done", func() {
				comp.computeFunc = func(ctx context.Context, req string) (string, error) {
					return "never", nil
				}

				doneCtx, doneCancel := context.WithCancel(ctx)
				doneCancel()

				wrapper := compose.NewRetryWrapper[string, string](comp, compose.WithRetryLogger(logger))

				_, err := wrapper.Compute(doneCtx, "test")
				var cancelledErr *compose.CancelledError
				Expect(errors.As(err, &cancelledErr)).To(BeTrue())
				Expect(comp.getCallCount()).To(Equal(0))
			})
		})
	})

	Describe("Retry hook", func() {
		It("observes each backoff with the attempt number and error", func() {
			attemptCount := 0
			comp.computeFunc = func(ctx context.Context, req string) (string, error) {
				attemptCount++
				if attemptCount < 3 {
					return "", errors.New("transient failure")
				}
				return "success", nil
			}

			type observation struct {
				attempt int
				err     error
			}
			var observed []observation

			wrapper := compose.NewRetryWrapper[string, string](
				comp,
				compose.WithMaxAttempts(3),
				compose.WithLinearBackoff(time.Millisecond, 10*time.Millisecond),
				compose.WithRetryHook(func(attempt int, err error) {
					observed = append(observed, observation{attempt: attempt, err: err})
				}),
				compose.WithRetryLogger(logger),
			)

			resp, err := wrapper.Compute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(Equal("success"))

			Expect(observed).To(HaveLen(2))
			Expect(observed[0].attempt).To(Equal(1))
			Expect(observed[1].attempt).To(Equal(2))
			Expect(observed[0].err).To(HaveOccurred())
		})

		It("isolates the caller from a panicking hook", func() {
			attemptCount := 0
			comp.computeFunc = func(ctx context.Context, req string) (string, error) {
				attemptCount++
				if attemptCount < 2 {
					return "", errors.New("transient failure")
				}
				return "success", nil
			}

			wrapper := compose.NewRetryWrapper[string, string](
				comp,
				compose.WithMaxAttempts(3),
				compose.WithLinearBackoff(time.Millisecond, 10*time.Millisecond),
				compose.WithRetryHook(func(attempt int, err error) {
					panic("hook misbehaved")
				}),
				compose.WithRetryLogger(logger),
			)

			resp, err := wrapper.Compute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(Equal("success"))
		})
	})

	Describe("Backoff strategies", func() {
		It("waits roughly linearly between attempts", func() {
			comp.computeFunc = func(ctx context.Context, req string) (string, error) {
				return "", errors.New("transient failure")
			}

			base := 20 * time.Millisecond
			wrapper := compose.NewRetryWrapper[string, string](
				comp,
				compose.WithMaxAttempts(3),
				compose.WithLinearBackoff(base, time.Second),
				compose.WithRetryLogger(logger),
			)

			start := time.Now()
			_, err := wrapper.Compute(ctx, "test")
			elapsed := time.Since(start)

			Expect(err).To(HaveOccurred())
			// Sleeps: base*1 + base*2 = 60ms
			Expect(elapsed).To(BeNumerically(">=", 3*base))
			Expect(elapsed).To(BeNumerically("<", 10*base))
		})
	})
})
