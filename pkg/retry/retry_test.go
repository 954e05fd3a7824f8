package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errQuota    = errors.New("quota")
	errOverload = errors.New("overloaded")
	errBad      = errors.New("bad request")
)

func classify(st State, err error) Decision {
	switch {
	case errors.Is(err, errQuota):
		return RetryNow
	case errors.Is(err, errOverload) && st.Tier == "pro" && st.Attempt == 0:
		return Downgrade
	case errors.Is(err, errOverload):
		return RetryAfterBackoff
	default:
		return Stop
	}
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second),
		Classify:    classify,
		Fallback:    "flash",
	}
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestNext_Transitions(t *testing.T) {
	p := testPolicy()
	start := p.Start("flash")

	assert.Equal(t, PhaseSucceeded, p.Next(start, nil).Phase)

	quota := p.Next(start, errQuota)
	assert.Equal(t, State{Phase: PhaseAttempting, Tier: "flash", Attempt: 1, Err: errQuota}, quota)

	backoff := p.Next(start, errOverload)
	assert.Equal(t, PhaseBackoff, backoff.Phase)
	assert.Equal(t, time.Second, backoff.Delay)
	assert.Equal(t, State{Phase: PhaseAttempting, Tier: "flash", Attempt: 1, Err: errOverload}, p.Resume(backoff))

	second := p.Next(State{Phase: PhaseAttempting, Tier: "flash", Attempt: 1}, errOverload)
	assert.Equal(t, 2*time.Second, second.Delay)

	assert.Equal(t, PhaseFailed, p.Next(start, errBad).Phase)
}

func TestNext_DowngradeOnlyOnFirstAttempt(t *testing.T) {
	p := testPolicy()

	first := p.Next(p.Start("pro"), errOverload)
	assert.Equal(t, PhaseAttempting, first.Phase)
	assert.Equal(t, "flash", first.Tier)
	assert.Equal(t, 1, first.Attempt)

	later := p.Next(State{Phase: PhaseAttempting, Tier: "pro", Attempt: 1}, errOverload)
	assert.Equal(t, PhaseBackoff, later.Phase)
	assert.Equal(t, "pro", later.Tier)
}

func TestNext_DowngradeWithoutFallbackBacksOff(t *testing.T) {
	p := testPolicy()
	p.Fallback = ""

	next := p.Next(p.Start("pro"), errOverload)
	assert.Equal(t, PhaseBackoff, next.Phase)
}

func TestNext_BudgetExhausted(t *testing.T) {
	p := testPolicy()

	last := State{Phase: PhaseAttempting, Tier: "flash", Attempt: 2}
	next := p.Next(last, errQuota)
	assert.Equal(t, PhaseFailed, next.Phase)
	assert.ErrorIs(t, next.Err, errQuota)
}

func TestNext_Permanent(t *testing.T) {
	p := testPolicy()

	next := p.Next(p.Start("flash"), Permanent(errQuota))
	assert.Equal(t, PhaseFailed, next.Phase)
}

func TestRun_SuccessAfterRetry(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	out, final, err := Run(context.Background(), testPolicy(), sleeper, testPolicy().Start("flash"),
		func(ctx context.Context, st State) (string, error) {
			calls++
			if calls < 3 {
				return "", errOverload
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, PhaseSucceeded, final.Phase)
	assert.Equal(t, 2, final.Attempt)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestRun_QuotaRetriesWithoutSleeping(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	_, _, err := Run(context.Background(), testPolicy(), sleeper, testPolicy().Start("flash"),
		func(ctx context.Context, st State) (int, error) {
			calls++
			return 0, errQuota
		})

	assert.ErrorIs(t, err, errQuota)
	assert.Equal(t, 3, calls)
	assert.Empty(t, sleeper.delays)
}

func TestRun_DowngradeCallSequence(t *testing.T) {
	var tiers []string

	out, final, err := Run(context.Background(), testPolicy(), &recordingSleeper{}, testPolicy().Start("pro"),
		func(ctx context.Context, st State) (string, error) {
			tiers = append(tiers, st.Tier)
			if st.Tier == "pro" {
				return "", errOverload
			}
			return "fast answer", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "fast answer", out)
	assert.Equal(t, []string{"pro", "flash"}, tiers)
	assert.Equal(t, "flash", final.Tier)
}

func TestRun_PermanentErrorIsUnwrapped(t *testing.T) {
	calls := 0
	_, _, err := Run(context.Background(), testPolicy(), &recordingSleeper{}, testPolicy().Start("flash"),
		func(ctx context.Context, st State) (int, error) {
			calls++
			return 0, Permanent(errQuota)
		})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errQuota, err)
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, final, err := Run(ctx, testPolicy(), sleeper, testPolicy().Start("flash"),
		func(ctx context.Context, st State) (int, error) {
			return 0, errOverload
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, final.Phase)
}

func TestRun_OnTransitionSeesEveryEdge(t *testing.T) {
	p := testPolicy()
	var edges []string
	p.OnTransition = func(from, to State) {
		edges = append(edges, from.Phase.String()+"->"+to.Phase.String())
	}

	calls := 0
	_, _, err := Run(context.Background(), p, &recordingSleeper{}, p.Start("flash"),
		func(ctx context.Context, st State) (int, error) {
			calls++
			if calls == 1 {
				return 0, errOverload
			}
			return 1, nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"attempting->backoff", "backoff->attempting", "attempting->succeeded"}, edges)
}

func TestRealSleeper_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := RealSleeper.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
