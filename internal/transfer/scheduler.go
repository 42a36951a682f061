package transfer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/storage"
)

// RetryPolicy controls how transient storage failures are retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay*2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// JobFunc processes one part index.
type JobFunc func(ctx context.Context, index int) error

// GateFunc blocks until index may be dispatched.
type GateFunc func(ctx context.Context, index int) error

type runConfig struct {
	gate GateFunc
}

// RunOption customises a single Run.
type RunOption func(*runConfig)

// WithGate holds back each job until gate returns. A gate error stops dispatch.
func WithGate(gate GateFunc) RunOption {
	return func(c *runConfig) {
		c.gate = gate
	}
}

// Scheduler runs part jobs with bounded parallelism and retries storage calls.
type Scheduler struct {
	concurrency int
	retry       RetryPolicy
	stop        <-chan struct{}
	log         logrus.FieldLogger

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewScheduler creates a scheduler. Closing stop cancels dispatch and any
// pending backoff; a nil stop is never closed.
func NewScheduler(concurrency int, retry RetryPolicy, stop <-chan struct{}, log logrus.FieldLogger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		concurrency: concurrency,
		retry:       retry,
		stop:        stop,
		log:         log,
	}
}

// PeakInFlight returns the most storage calls observed running at once.
func (s *Scheduler) PeakInFlight() int {
	return int(s.peak.Load())
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run calls fn for every job in order, at most Concurrency at a time. The
// first error stops further dispatch, cancels the context of running jobs and
// is returned once they have returned. When the scheduler is stopped Run
// returns ErrCancelled at once; running jobs keep a live context and are left
// to finish on their own.
func (s *Scheduler) Run(ctx context.Context, jobs []int, fn JobFunc, opts ...RunOption) error {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	// jobCtx ends only with ctx or the first error; dispatchCtx also ends on stop.
	jobCtx, cancelJobs := context.WithCancel(ctx)
	dispatchCtx, cancelDispatch := context.WithCancel(jobCtx)
	defer cancelDispatch()

	go func() {
		select {
		case <-s.stop:
			cancelDispatch()
		case <-dispatchCtx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancelJobs()
		})
	}
	sem := make(chan struct{}, s.concurrency)

dispatch:
	for _, job := range jobs {
		if s.stopped() || dispatchCtx.Err() != nil {
			break
		}
		if cfg.gate != nil {
			if err := cfg.gate(dispatchCtx, job); err != nil {
				if dispatchCtx.Err() == nil {
					fail(err)
				}
				break
			}
		}

		select {
		case sem <- struct{}{}:
		case <-dispatchCtx.Done():
			break dispatch
		}
		if dispatchCtx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(job int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(jobCtx, job); err != nil {
				fail(err)
			}
		}(job)
	}

	if s.stopped() {
		go func() {
			wg.Wait()
			cancelJobs()
		}()
		return ErrCancelled
	}
	wg.Wait()
	cancelJobs()
	if s.stopped() {
		return ErrCancelled
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Do runs op until it succeeds, fails permanently or runs out of attempts.
// A stopped scheduler starts no new attempt but never interrupts a running one.
// Storage fatal errors, integrity errors and cancellation end it at once;
// anything else is treated as transient.
func (s *Scheduler) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := s.retry.attempts()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.stopped() {
			return ErrCancelled
		}

		s.enter()
		err := op(ctx, attempt)
		s.leave()
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		if attempt >= maxAttempts {
			return &RetryExhaustedError{Attempts: attempt, Err: err}
		}

		delay := s.retry.Backoff(attempt)
		s.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warnf("⚠️ Transient storage failure, retrying: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stop:
			timer.Stop()
			return ErrCancelled
		}
	}
}

func (s *Scheduler) enter() {
	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Scheduler) leave() {
	s.inFlight.Add(-1)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var integrity *chunker.IntegrityError
	switch {
	case storage.IsTransient(err):
		return true
	case storage.IsFatal(err),
		errors.As(err, &integrity),
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
