package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Microsecond,
		MaxDelay:    time.Millisecond,
		Jitter:      0.2,
	}
}

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), isTransient, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), isTransient, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), isTransient, func(ctx context.Context) error {
		calls++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestDo_BudgetExhaustedKeepsCause(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), isTransient, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}
	err := Do(ctx, p, isTransient, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_NilClassifierMeansNoRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestPolicy_DelayDoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.delay(0))
	assert.Equal(t, 20*time.Millisecond, p.delay(1))
	assert.Equal(t, 35*time.Millisecond, p.delay(2))
	assert.Equal(t, 35*time.Millisecond, p.delay(8))
}

func TestPolicy_JitterStaysWithinSpread(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.delay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
