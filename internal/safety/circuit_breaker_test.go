package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	cb, err := NewCircuitBreaker("test", DefaultBreakerConfig(), clock.Now)
	require.NoError(t, err)
	return cb, clock
}

func loss(at time.Time) types.TradeOutcome {
	return types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -100, Timestamp: at}
}

func win(at time.Time) types.TradeOutcome {
	return types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: 100, Timestamp: at}
}

func TestBreakerStartsActive(t *testing.T) {
	cb, clock := newTestBreaker(t)
	s := cb.Snapshot()
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 1.0, s.RiskReductionFactor)
	assert.True(t, cb.CanTrade(clock.Now()))
}

func TestLossStreakTransitions(t *testing.T) {
	cb, _ := newTestBreaker(t)

	s := cb.RecordOutcome(loss(t0))
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 1, s.ConsecutiveLosses)

	s = cb.RecordOutcome(loss(t0.Add(time.Minute)))
	assert.Equal(t, StateReduced, s.State)
	assert.InDelta(t, 0.75, s.RiskReductionFactor, 1e-12)

	at := t0.Add(2 * time.Minute)
	s = cb.RecordOutcome(loss(at))
	assert.Equal(t, StateHalted, s.State)
	assert.Equal(t, at.Add(24*time.Hour), s.HaltedUntil)
	assert.False(t, cb.CanTrade(at.Add(23*time.Hour)))
}

func TestReductionFactorFloor(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.HardLossLimit = 10
	cb, err := NewCircuitBreaker("floor", cfg, func() time.Time { return t0 })
	require.NoError(t, err)

	want := []float64{1, 0.75, 0.5, 0.25, 0.25, 0.25}
	for i, w := range want {
		s := cb.RecordOutcome(loss(t0.Add(time.Duration(i) * time.Minute)))
		assert.InDelta(t, w, s.RiskReductionFactor, 1e-12, "after %d losses", i+1)
		assert.Greater(t, s.RiskReductionFactor, 0.0)
	}
}

func TestWinResetsStreak(t *testing.T) {
	cb, _ := newTestBreaker(t)
	cb.RecordOutcome(loss(t0))
	cb.RecordOutcome(loss(t0.Add(time.Minute)))

	s := cb.RecordOutcome(win(t0.Add(2 * time.Minute)))
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.Equal(t, 1.0, s.RiskReductionFactor)
}

func TestBreakEvenCountsAsLoss(t *testing.T) {
	cb, _ := newTestBreaker(t)
	s := cb.RecordOutcome(types.TradeOutcome{Symbol: "ETHUSDT", PnLUSD: 0, Timestamp: t0})
	assert.Equal(t, 1, s.ConsecutiveLosses)
}

func TestHaltLiftsOnlyAfterCooldown(t *testing.T) {
	cb, clock := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(loss(t0.Add(time.Duration(i) * time.Minute)))
	}
	haltedUntil := cb.Snapshot().HaltedUntil

	// a win during the halt clears the streak but not the halt
	s := cb.RecordOutcome(win(t0.Add(time.Hour)))
	assert.Equal(t, StateHalted, s.State)
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.False(t, cb.CanTrade(haltedUntil.Add(-time.Nanosecond)))

	// inclusive at the boundary, full reset
	assert.True(t, cb.CanTrade(haltedUntil))
	s = cb.Snapshot()
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 0, s.ConsecutiveLosses)
	assert.Equal(t, 1.0, s.RiskReductionFactor)
	assert.True(t, s.HaltedUntil.IsZero())

	clock.Advance(48 * time.Hour)
	s = cb.RecordOutcome(win(time.Time{}))
	assert.Equal(t, clock.Now(), s.LastOutcomeAt)
	assert.True(t, cb.CanTrade(clock.Now()))
}

func TestWinAfterCooldownRestoresTrading(t *testing.T) {
	cb, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(loss(t0))
	}
	assert.False(t, cb.CanTrade(t0))

	s := cb.RecordOutcome(win(t0.Add(25 * time.Hour)))
	assert.Equal(t, StateActive, s.State)
	assert.True(t, cb.CanTrade(t0.Add(25*time.Hour)))
}

func TestLossDuringHaltExtendsCooldown(t *testing.T) {
	cb, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(loss(t0))
	}
	later := t0.Add(2 * time.Hour)
	s := cb.RecordOutcome(loss(later))
	assert.Equal(t, 4, s.ConsecutiveLosses)
	assert.Equal(t, later.Add(24*time.Hour), s.HaltedUntil)
}

func TestLossAfterWinDuringHaltExtendsCooldown(t *testing.T) {
	cb, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(loss(t0))
	}
	cb.RecordOutcome(win(t0.Add(time.Hour)))

	later := t0.Add(3 * time.Hour)
	s := cb.RecordOutcome(loss(later))
	assert.Equal(t, StateHalted, s.State)
	assert.Equal(t, 1, s.ConsecutiveLosses)
	assert.Equal(t, later.Add(24*time.Hour), s.HaltedUntil)
	assert.False(t, cb.CanTrade(t0.Add(25*time.Hour)))

	// an older loss never shortens the halt
	s = cb.RecordOutcome(loss(t0.Add(2 * time.Hour)))
	assert.Equal(t, later.Add(24*time.Hour), s.HaltedUntil)
}

func TestCooldownExpiryDoesNotResumeLossCount(t *testing.T) {
	cb, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(loss(t0))
	}
	s := cb.RecordOutcome(loss(t0.Add(24 * time.Hour)))
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 1, s.ConsecutiveLosses)
}

func TestReplayIsPureFunctionOfLog(t *testing.T) {
	log := []types.TradeOutcome{
		loss(t0),
		win(t0.Add(time.Hour)),
		loss(t0.Add(2 * time.Hour)),
		loss(t0.Add(3 * time.Hour)),
		loss(t0.Add(4 * time.Hour)),
	}

	live, _ := newTestBreaker(t)
	for _, o := range log {
		live.RecordOutcome(o)
	}

	rebuilt, _ := newTestBreaker(t)
	rebuilt.RecordOutcome(loss(t0)) // stale state is discarded
	assert.Equal(t, live.Snapshot(), rebuilt.Replay(log))
	assert.Equal(t, StateHalted, rebuilt.Snapshot().State)
}

func TestStateChangeCallback(t *testing.T) {
	cb, _ := newTestBreaker(t)

	var transitions [][2]State
	cb.SetStateChangeCallback(func(from, to State, _ BreakerState) {
		transitions = append(transitions, [2]State{from, to})
	})

	cb.RecordOutcome(loss(t0))
	cb.RecordOutcome(loss(t0))
	cb.RecordOutcome(loss(t0))
	cb.CheckStatus(t0.Add(24 * time.Hour))

	assert.Equal(t, [][2]State{
		{StateActive, StateReduced},
		{StateReduced, StateHalted},
		{StateHalted, StateActive},
	}, transitions)
}

func TestBreakerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BreakerConfig)
	}{
		{"Soft limit zero", func(c *BreakerConfig) { c.SoftLossLimit = 0 }},
		{"Hard below soft", func(c *BreakerConfig) { c.HardLossLimit = 1 }},
		{"No cooldown", func(c *BreakerConfig) { c.Cooldown = 0 }},
		{"Step above one", func(c *BreakerConfig) { c.ReductionStep = 1.5 }},
		{"Zero floor", func(c *BreakerConfig) { c.MinRiskReduction = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBreakerConfig()
			tt.mutate(&cfg)
			_, err := NewCircuitBreaker("bad", cfg, nil)
			assert.True(t, errors.Is(err, rerrors.ErrInvalidConfig))
		})
	}
}
