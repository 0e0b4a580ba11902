package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_Lifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	b := New("ledger",
		WithFailureThreshold(2),
		WithSuccessThreshold(2),
		WithCooldown(time.Minute),
		WithClock(clock.Now),
		WithStateChangeHook(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	boom := errors.New("boom")

	require.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Execute(func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls, "open circuit must not invoke the call")

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := New("ledger", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New("ledger", WithFailureThreshold(2))
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
