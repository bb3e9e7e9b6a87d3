// Package backoff runs fallible operations with a bounded number of attempts
// and exponentially growing pauses between them.
//
// Every failure is treated as retryable: the device cannot reliably tell a
// timeout from a malformed response, so both get the same budget.
package backoff

import (
	"context"
	"fmt"
	"time"

	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/logger"

	cbackoff "github.com/cenkalti/backoff/v5"
)

const (
	defaultMultiplier = 2.0
	defaultMaxDelay   = 10 * time.Minute
)

// Policy is the attempt budget of one operation.
type Policy struct {
	MaxAttempts  int           // total attempts, at least 1
	InitialDelay time.Duration // pause after the first failure
	Multiplier   float64       // growth factor of the pause
	MaxDelay     time.Duration // cap on a single pause; 0 means 10m
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier <= 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// intervals returns the delay generator for one Execute call. Randomization is
// disabled so the schedule is exactly InitialDelay, InitialDelay*Multiplier, ...
func (p Policy) intervals() *cbackoff.ExponentialBackOff {
	b := &cbackoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// Feeder is the liveness signal fed before every attempt.
type Feeder interface {
	Feed()
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Executor wraps operations with a retry policy. It is safe to share between
// operations of one control loop.
type Executor struct {
	log      *logger.Logger
	watchdog Feeder
	sleeper  Sleeper
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleeper = s }
}

// WithClock replaces time.Now for elapsed-time reporting.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor builds an executor. log and watchdog may be nil.
func NewExecutor(log *logger.Logger, watchdog Feeder, opts ...Option) *Executor {
	e := &Executor{
		log:      logger.OrNop(log),
		watchdog: watchdog,
		sleeper:  TimerSleeper{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op until it succeeds or the policy's attempts are used up. The
// returned error is classified errs.KindRetriesExhausted and wraps the last
// failure. A cancelled ctx aborts the pause between attempts.
func (e *Executor) Execute(ctx context.Context, name string, p Policy, op func(ctx context.Context) error) error {
	p = p.normalized()
	delays := p.intervals()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if e.watchdog != nil {
			e.watchdog.Feed()
		}

		started := e.now()
		err := op(ctx)
		elapsed := e.now().Sub(started)
		if err == nil {
			e.log.Infow("attempt_succeeded", "op", name, "attempt", attempt, "elapsed", elapsed)
			return nil
		}
		lastErr = err
		e.log.Warnw("attempt_failed",
			"op", name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"elapsed", elapsed,
			"err", err,
		)
		if attempt == p.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: backoff before attempt %d: %w", name, attempt+1, err)
		}
	}

	e.log.Errorw("retries_exhausted", "op", name, "attempts", p.MaxAttempts, "err", lastErr)
	return errs.Exhausted(name, p.MaxAttempts, lastErr)
}

// Retry is Execute for operations that produce a value.
func Retry[T any](ctx context.Context, e *Executor, name string, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, name, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// TimerSleeper pauses on a timer and returns early when ctx is done.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
