package safety

import (
	"fmt"
	"math"
	"sync"
	"time"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "safety"

// State represents the trading state of a circuit breaker
type State string

const (
	StateActive  State = "ACTIVE"
	StateReduced State = "REDUCED"
	StateHalted  State = "HALTED"
)

// Clock supplies the current time. Every time comparison in the breaker goes
// through it so the state machine stays deterministic under test.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// BreakerConfig holds configuration for a loss-streak circuit breaker
type BreakerConfig struct {
	SoftLossLimit    int           `json:"soft_loss_limit" yaml:"soft_loss_limit"`         // Losses in a row before risk is reduced
	HardLossLimit    int           `json:"hard_loss_limit" yaml:"hard_loss_limit"`         // Losses in a row before trading halts
	Cooldown         time.Duration `json:"cooldown_duration" yaml:"cooldown_duration"`     // Halt duration
	ReductionStep    float64       `json:"risk_reduction_step" yaml:"risk_reduction_step"` // Factor cut per loss at or beyond the soft limit
	MinRiskReduction float64       `json:"min_risk_reduction" yaml:"min_risk_reduction"`   // Floor of the reduction factor
}

// DefaultBreakerConfig returns the default breaker limits
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		SoftLossLimit:    2,
		HardLossLimit:    3,
		Cooldown:         24 * time.Hour,
		ReductionStep:    0.25,
		MinRiskReduction: 0.25,
	}
}

// Validate checks the limits are coherent
func (c BreakerConfig) Validate() error {
	switch {
	case c.SoftLossLimit < 1:
		return rerrors.NewConfigurationError(component, "soft_loss_limit", "must be at least 1")
	case c.HardLossLimit < c.SoftLossLimit:
		return rerrors.NewConfigurationError(component, "hard_loss_limit", "must be at least soft_loss_limit")
	case c.Cooldown <= 0:
		return rerrors.NewConfigurationError(component, "cooldown_duration", "must be positive")
	case c.ReductionStep <= 0 || c.ReductionStep > 1:
		return rerrors.NewConfigurationError(component, "risk_reduction_step", "must be in (0, 1]")
	case c.MinRiskReduction <= 0 || c.MinRiskReduction > 1:
		return rerrors.NewConfigurationError(component, "min_risk_reduction", "must be in (0, 1]")
	}
	return nil
}

// reductionFactor is the risk multiplier for a loss streak at or beyond the soft limit.
func (c BreakerConfig) reductionFactor(losses int) float64 {
	return math.Max(c.MinRiskReduction, 1-c.ReductionStep*float64(losses-c.SoftLossLimit+1))
}

// BreakerState is a point-in-time copy of the breaker
type BreakerState struct {
	State               State     `json:"state"`
	ConsecutiveLosses   int       `json:"consecutive_losses"`
	RiskReductionFactor float64   `json:"risk_reduction_factor"`
	HaltedUntil         time.Time `json:"halted_until,omitempty"` // zero unless halted
	LastOutcomeAt       time.Time `json:"last_outcome_at,omitempty"`
	TotalOutcomes       int       `json:"total_outcomes"`
}

// IsHalted reports whether the snapshot forbids trading.
func (s BreakerState) IsHalted() bool {
	return s.State == StateHalted
}

func activeState() BreakerState {
	return BreakerState{State: StateActive, RiskReductionFactor: 1}
}

// CircuitBreaker de-risks and halts trading after a run of losing outcomes
type CircuitBreaker struct {
	config        BreakerConfig
	state         BreakerState
	clock         Clock
	mutex         sync.RWMutex
	name          string
	onStateChange func(from, to State, snapshot BreakerState)
}

// NewCircuitBreaker creates a new circuit breaker. A nil clock uses SystemClock.
func NewCircuitBreaker(name string, config BreakerConfig, clock Clock) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	return &CircuitBreaker{
		config: config,
		state:  activeState(),
		clock:  clock,
		name:   name,
	}, nil
}

// SetStateChangeCallback sets a callback to be called when the state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to State, snapshot BreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the breaker limits
func (cb *CircuitBreaker) Config() BreakerConfig {
	return cb.config
}

// Now returns the breaker clock's current time
func (cb *CircuitBreaker) Now() time.Time {
	return cb.clock()
}

// RecordOutcome applies a closed trade to the loss streak. The outcome
// timestamp is the transition time; a zero timestamp uses the clock.
func (cb *CircuitBreaker) RecordOutcome(outcome types.TradeOutcome) BreakerState {
	at := outcome.Timestamp
	if at.IsZero() {
		at = cb.clock()
	}

	cb.mutex.Lock()
	from := cb.state.State
	cb.expireHalt(at)
	cb.apply(outcome, at)
	snapshot := cb.state
	callback := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(callback, from, snapshot)
	return snapshot
}

func (cb *CircuitBreaker) apply(outcome types.TradeOutcome, at time.Time) {
	cb.state.TotalOutcomes++
	cb.state.LastOutcomeAt = at

	if outcome.IsWin() {
		cb.state.ConsecutiveLosses = 0
		// A halt only lifts when its cooldown elapses.
		if cb.state.State != StateHalted {
			cb.state.State = StateActive
			cb.state.RiskReductionFactor = 1
		}
		return
	}

	cb.state.ConsecutiveLosses++
	losses := cb.state.ConsecutiveLosses
	switch {
	case losses >= cb.config.HardLossLimit || cb.state.State == StateHalted:
		// any loss while halted restarts the cooldown
		cb.state.State = StateHalted
		if until := at.Add(cb.config.Cooldown); until.After(cb.state.HaltedUntil) {
			cb.state.HaltedUntil = until
		}
		cb.state.RiskReductionFactor = cb.config.MinRiskReduction
	case losses >= cb.config.SoftLossLimit:
		cb.state.State = StateReduced
		cb.state.RiskReductionFactor = cb.config.reductionFactor(losses)
	}
}

// expireHalt lifts an elapsed halt with a full reset. Caller holds the lock.
func (cb *CircuitBreaker) expireHalt(now time.Time) bool {
	if cb.state.State != StateHalted || now.Before(cb.state.HaltedUntil) {
		return false
	}
	total, last := cb.state.TotalOutcomes, cb.state.LastOutcomeAt
	cb.state = activeState()
	cb.state.TotalOutcomes = total
	cb.state.LastOutcomeAt = last
	return true
}

// CheckStatus lifts a halt whose cooldown has elapsed at now and returns the
// resulting state.
func (cb *CircuitBreaker) CheckStatus(now time.Time) BreakerState {
	cb.mutex.Lock()
	from := cb.state.State
	cb.expireHalt(now)
	snapshot := cb.state
	callback := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(callback, from, snapshot)
	return snapshot
}

// CanTrade is false only while halted at now.
func (cb *CircuitBreaker) CanTrade(now time.Time) bool {
	return !cb.CheckStatus(now).IsHalted()
}

// RiskReductionFactor returns the multiplier applied to baseline risk at now.
func (cb *CircuitBreaker) RiskReductionFactor(now time.Time) float64 {
	return cb.CheckStatus(now).RiskReductionFactor
}

// Snapshot returns a copy of the state without evaluating the cooldown
func (cb *CircuitBreaker) Snapshot() BreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Replay rebuilds the state from an ordered outcome log. Each outcome's own
// timestamp serves as the current time, so the result depends only on the log.
// The state-change callback is not invoked.
func (cb *CircuitBreaker) Replay(outcomes []types.TradeOutcome) BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = activeState()
	for _, o := range outcomes {
		at := o.Timestamp
		if at.IsZero() {
			at = cb.state.LastOutcomeAt
		}
		cb.expireHalt(at)
		cb.apply(o, at)
	}
	return cb.state
}

// Reset returns the breaker to ACTIVE with no loss streak
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	from := cb.state.State
	cb.state = activeState()
	snapshot := cb.state
	callback := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(callback, from, snapshot)
}

// notify calls the callback without holding the mutex to avoid deadlock
func (cb *CircuitBreaker) notify(callback func(from, to State, snapshot BreakerState), from State, snapshot BreakerState) {
	if callback != nil && from != snapshot.State {
		callback(from, snapshot.State, snapshot)
	}
}

// String describes the breaker for logs
func (cb *CircuitBreaker) String() string {
	s := cb.Snapshot()
	if s.IsHalted() {
		return fmt.Sprintf("%s: %s until %s (%d losses)", cb.name, s.State, s.HaltedUntil.Format(time.RFC3339), s.ConsecutiveLosses)
	}
	return fmt.Sprintf("%s: %s factor=%.2f (%d losses)", cb.name, s.State, s.RiskReductionFactor, s.ConsecutiveLosses)
}
