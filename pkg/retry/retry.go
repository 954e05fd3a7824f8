// Package retry implements retry policies as an explicit state machine.
//
// A call moves through Attempting -> (Backoff -> Attempting)* -> Succeeded or
// Failed. Transitions are pure functions of the current State and the error
// returned by the attempt, so policies can be tested without timers. Run
// drives the machine with an injectable Sleeper.
package retry

import (
	"context"
	"errors"
	"time"
)

type Phase int

const (
	PhaseAttempting Phase = iota
	PhaseBackoff
	PhaseFailed
	PhaseSucceeded
)

func (p Phase) String() string {
	switch p {
	case PhaseAttempting:
		return "attempting"
	case PhaseBackoff:
		return "backoff"
	case PhaseFailed:
		return "failed"
	case PhaseSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Decision is what a Classifier wants done with a failed attempt.
type Decision int

const (
	Stop Decision = iota
	RetryNow
	RetryAfterBackoff
	Downgrade
)

func (d Decision) String() string {
	switch d {
	case Stop:
		return "stop"
	case RetryNow:
		return "retry_now"
	case RetryAfterBackoff:
		return "retry_after_backoff"
	case Downgrade:
		return "downgrade"
	default:
		return "unknown"
	}
}

// State is one node of the retry machine. Attempt is zero-based.
type State struct {
	Phase   Phase
	Tier    string
	Attempt int
	Delay   time.Duration
	Err     error
}

type Classifier func(st State, err error) Decision

type Policy struct {
	MaxAttempts int
	// Backoff maps the zero-based attempt that just failed to a delay.
	Backoff  func(attempt int) time.Duration
	Classify Classifier
	// Fallback is the tier a Downgrade switches to.
	Fallback     string
	OnTransition func(from, to State)
}

// Exponential returns base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt)
	}
}

func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

func (p Policy) Start(tier string) State {
	return State{Phase: PhaseAttempting, Tier: tier}
}

// Next returns the state that follows st after an attempt returned err.
func (p Policy) Next(st State, err error) State {
	if err == nil {
		return State{Phase: PhaseSucceeded, Tier: st.Tier, Attempt: st.Attempt}
	}

	failed := State{Phase: PhaseFailed, Tier: st.Tier, Attempt: st.Attempt, Err: err}
	if IsPermanent(err) || st.Attempt+1 >= p.maxAttempts() {
		return failed
	}

	switch p.classify(st, err) {
	case RetryNow:
		return State{Phase: PhaseAttempting, Tier: st.Tier, Attempt: st.Attempt + 1, Err: err}
	case Downgrade:
		if p.Fallback == "" || p.Fallback == st.Tier {
			return State{Phase: PhaseBackoff, Tier: st.Tier, Attempt: st.Attempt, Delay: p.delay(st.Attempt), Err: err}
		}
		return State{Phase: PhaseAttempting, Tier: p.Fallback, Attempt: st.Attempt + 1, Err: err}
	case RetryAfterBackoff:
		return State{Phase: PhaseBackoff, Tier: st.Tier, Attempt: st.Attempt, Delay: p.delay(st.Attempt), Err: err}
	default:
		return failed
	}
}

// Resume leaves a Backoff state once its delay has elapsed.
func (p Policy) Resume(st State) State {
	if st.Phase != PhaseBackoff {
		return st
	}
	return State{Phase: PhaseAttempting, Tier: st.Tier, Attempt: st.Attempt + 1, Err: st.Err}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) classify(st State, err error) Decision {
	if p.Classify == nil {
		return RetryAfterBackoff
	}
	return p.Classify(st, err)
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func (p Policy) notify(from, to State) {
	if p.OnTransition != nil {
		p.OnTransition(from, to)
	}
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper waits on a timer and returns early when ctx is done.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
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
})

// Run executes fn until the policy reaches Succeeded or Failed. The returned
// State is the terminal state; on failure the error is the last attempt's.
func Run[T any](ctx context.Context, p Policy, sleeper Sleeper, start State, fn func(ctx context.Context, st State) (T, error)) (T, State, error) {
	var zero T
	if sleeper == nil {
		sleeper = RealSleeper
	}

	st := start
	for {
		if err := ctx.Err(); err != nil {
			return zero, State{Phase: PhaseFailed, Tier: st.Tier, Attempt: st.Attempt, Err: err}, err
		}

		out, err := fn(ctx, st)
		next := p.Next(st, err)
		p.notify(st, next)

		switch next.Phase {
		case PhaseSucceeded:
			return out, next, nil
		case PhaseFailed:
			return zero, next, unwrapPermanent(next.Err)
		case PhaseBackoff:
			if err := sleeper.Sleep(ctx, next.Delay); err != nil {
				return zero, State{Phase: PhaseFailed, Tier: next.Tier, Attempt: next.Attempt, Err: err}, err
			}
			resumed := p.Resume(next)
			p.notify(next, resumed)
			st = resumed
		default:
			st = next
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that no further attempts are made.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}
