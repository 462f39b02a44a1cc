package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/logger"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/storage"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/id"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// Engine is the risk gate of one account. It owns the circuit breaker and
// the heat ledger, and persists every change through the store before
// applying it in memory.
type Engine struct {
	config  Config
	store   storage.Store
	clock   safety.Clock
	logger  *logger.Logger
	metrics *monitoring.Metrics
	health  *monitoring.HealthChecker

	collateral *collateral.Monitor
	analyzer   *concentration.Analyzer
	breaker    *safety.CircuitBreaker
	heat       *portfolio.HeatTracker
	sizer      *sizing.Sizer

	// Serializes breaker and ledger access across operations
	mutex sync.Mutex
	daily dailyLedger
	// outcomes already logged for a position, by position id
	closed map[string]types.TradeOutcome
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock sets the clock used for halts, open times and the trading day
func WithClock(clock safety.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the decision logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithHealthChecker reports decisions and storage errors to h
func WithHealthChecker(h *monitoring.HealthChecker) Option {
	return func(e *Engine) {
		e.health = h
	}
}

// WithConfig replaces the default configuration
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// New builds an engine over store. Open positions are loaded and the outcome
// log is replayed so the breaker state is a function of the persisted log.
func New(ctx context.Context, store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, rerrors.NewConfigurationError(component, "store", "a store is required")
	}

	e := &Engine{
		config: DefaultConfig(),
		store:  store,
		clock:  safety.SystemClock,
		logger: logger.NewNop(),
		closed: make(map[string]types.TradeOutcome),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	var err error
	if e.collateral, err = collateral.NewMonitorWithBands(e.config.HealthBands); err != nil {
		return nil, err
	}
	var analyzerOpts []concentration.Option
	if len(e.config.Sectors) > 0 {
		analyzerOpts = append(analyzerOpts, concentration.WithSectors(e.config.Sectors))
	}
	if e.analyzer, err = concentration.NewAnalyzer(e.config.Concentration, analyzerOpts...); err != nil {
		return nil, err
	}
	if e.breaker, err = safety.NewCircuitBreaker(e.config.Account, e.config.Breaker, e.clock); err != nil {
		return nil, err
	}

	positions, err := store.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	if e.heat, err = portfolio.NewHeatTracker(e.config.Heat, store, positions); err != nil {
		return nil, err
	}
	if e.sizer, err = sizing.NewSizer(e.config.Sizing, e.breaker, e.heat, sizing.WithClock(e.clock)); err != nil {
		return nil, err
	}

	outcomes, err := store.LoadOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade outcomes: %w", err)
	}
	state := e.breaker.Replay(outcomes)
	for _, o := range outcomes {
		e.daily.add(o)
		if o.PositionID != "" {
			e.closed[o.PositionID] = o
		}
	}
	e.reconcile(ctx)

	e.breaker.SetStateChangeCallback(e.onBreakerChange)
	e.metrics.UpdateBreaker(string(state.State), state.ConsecutiveLosses)
	positions = e.heat.Positions()
	e.metrics.UpdateHeat(0, len(positions))
	if e.health != nil {
		e.health.SetBreakerState(string(state.State))
	}

	e.logger.Info("Risk engine ready for account %s: %d open positions ($%.2f at risk), %d outcomes replayed, breaker %s",
		e.config.Account, len(positions), e.heat.TotalOpenRisk(), len(outcomes), state.State)
	return e, nil
}

// reconcile drops open positions whose outcome is already in the log, left
// behind when a close failed after recording the outcome
func (e *Engine) reconcile(ctx context.Context) {
	for _, pos := range e.heat.Positions() {
		if _, ok := e.closed[pos.ID]; !ok {
			continue
		}
		if _, err := e.heat.Remove(ctx, pos.ID); err != nil {
			e.storageFailed("remove closed position", err)
			continue
		}
		e.logger.Warning("Removed %s %s: its outcome was already recorded", pos.Symbol, pos.ID)
	}
}

func (e *Engine) onBreakerChange(from, to safety.State, snapshot safety.BreakerState) {
	switch to {
	case safety.StateHalted:
		e.logger.Warning("Circuit breaker %s -> %s after %d consecutive losses, halted until %s",
			from, to, snapshot.ConsecutiveLosses, snapshot.HaltedUntil.Format(time.RFC3339))
	case safety.StateReduced:
		e.logger.Warning("Circuit breaker %s -> %s, risk reduced to %.0f%%",
			from, to, snapshot.RiskReductionFactor*100)
	default:
		e.logger.Info("Circuit breaker %s -> %s", from, to)
	}
	e.metrics.UpdateBreaker(string(to), snapshot.ConsecutiveLosses)
	if e.health != nil {
		e.health.SetBreakerState(string(to))
	}
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// EvaluateCollateral reports the health of a lending position
func (e *Engine) EvaluateCollateral(pos collateral.Position) (collateral.HealthReport, error) {
	report, err := e.collateral.Evaluate(pos)
	if err != nil {
		return report, err
	}
	if v, ok := report.HealthFactor.Value(); ok {
		e.metrics.UpdateHealthFactor(v)
	}
	if report.RiskLevel == collateral.RiskLevelCritical || report.RiskLevel == collateral.RiskLevelDanger {
		e.logger.Warning("Collateral health %s: %s", report.HealthFactor, report.RiskLevel)
	}
	return report, nil
}

// AnalyzeConcentration reports how concentrated a book is
func (e *Engine) AnalyzeConcentration(book map[string]types.AssetExposure) (concentration.ConcentrationReport, error) {
	return e.analyzer.Analyze(book)
}

// Size sizes a candidate trade without changing any state. The day's
// realized PnL is taken from the engine's outcome log.
func (e *Engine) Size(ctx context.Context, req sizing.Request) (sizing.Result, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.size(req)
}

func (e *Engine) size(req sizing.Request) (sizing.Result, error) {
	req.DailyPnLUSD = e.daily.pnl(e.clock())
	result, err := e.sizer.Size(req)
	if err != nil {
		e.metrics.RecordError("invalid_input")
		return result, err
	}
	e.recordDecision(result)
	return result, nil
}

func (e *Engine) recordDecision(result sizing.Result) {
	if result.Rejected {
		e.logger.Decision("%s rejected (%s): %s", result.Symbol, result.Method, result.Reason)
	} else {
		e.logger.Decision("%s approved (%s): risk $%.2f, size %.6f, stop $%.2f, heat %.2f%%",
			result.Symbol, result.Method, result.RiskAmountUSD, result.Size,
			result.StopDistanceUSD, result.Heat.ProjectedHeat*100)
	}
	for _, w := range result.Warnings {
		e.logger.Debug("%s: %s", result.Symbol, w)
	}
	e.metrics.RecordDecision(result.Symbol, string(result.Method), result.Rejected, result.RiskAmountUSD)
	e.metrics.UpdateHeat(result.Heat.HeatFraction, result.Heat.OpenPositions)
	if e.health != nil {
		e.health.RecordDecision(result.DecidedAt)
	}
}

// Decision is the outcome of Open. Position is set only when the trade was
// approved and recorded in the ledger.
type Decision struct {
	Result   sizing.Result           `json:"result"`
	Position *types.OpenPositionRisk `json:"position,omitempty"`
}

// Open sizes a trade and, when approved, records its risk in the ledger. The
// sizing, heat check and add happen in one critical section.
func (e *Engine) Open(ctx context.Context, req sizing.Request) (Decision, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	result, err := e.size(req)
	if err != nil || result.Rejected {
		return Decision{Result: result}, err
	}

	now := e.clock()
	pos := types.OpenPositionRisk{
		ID:            id.NewAt(now),
		Symbol:        req.Symbol,
		Sector:        req.Sector,
		RiskAmountUSD: result.RiskAmountUSD,
		OpenedAt:      now,
	}
	heat, added, err := e.heat.TryAdd(ctx, pos, req.EquityUSD)
	if err != nil {
		e.storageFailed("open position", err)
		return Decision{Result: result}, err
	}
	if !added {
		// only reachable when the ledger was changed outside the engine
		result.Heat = heat
		result.Rejected = true
		result.Method = sizing.MethodHeatExceeded
		result.Reason = fmt.Sprintf("Portfolio heat changed while sizing; $%.2f no longer fits", pos.RiskAmountUSD)
		result.Size, result.RiskAmountUSD = 0, 0
		return Decision{Result: result}, nil
	}
	result.Heat = heat
	e.metrics.UpdateHeat(heat.HeatFraction, heat.OpenPositions)

	e.logger.Info("Opened %s %s risking $%.2f (%d open, $%.2f total)",
		pos.Symbol, pos.ID, pos.RiskAmountUSD, heat.OpenPositions, heat.TotalOpenRiskUSD)
	return Decision{Result: result, Position: &pos}, nil
}

// Close records the realized PnL of an open position and removes it from
// the ledger. The outcome is persisted before the position is deleted. A
// position whose outcome is already logged is only removed, and the logged
// outcome is returned.
func (e *Engine) Close(ctx context.Context, positionID string, pnlUSD float64) (types.TradeOutcome, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	pos, ok := e.heat.Get(positionID)
	if !ok {
		return types.TradeOutcome{}, rerrors.NewInvalidInput(component, "close position",
			fmt.Sprintf("position %s is not open", positionID), rerrors.ErrPositionNotFound)
	}

	outcome, recorded := e.closed[pos.ID]
	if !recorded {
		outcome = types.TradeOutcome{
			Symbol:     pos.Symbol,
			PnLUSD:     pnlUSD,
			Timestamp:  e.clock(),
			PositionID: pos.ID,
		}
		if err := e.recordOutcome(ctx, outcome); err != nil {
			return types.TradeOutcome{}, err
		}
	}
	if _, err := e.heat.Remove(ctx, positionID); err != nil {
		e.storageFailed("remove position", err)
		return outcome, err
	}

	if recorded {
		e.logger.Info("Closed %s %s, keeping the recorded PnL $%.2f", pos.Symbol, pos.ID, outcome.PnLUSD)
	} else {
		e.logger.Info("Closed %s %s with PnL $%.2f", pos.Symbol, pos.ID, pnlUSD)
	}
	return outcome, nil
}

// RecordOutcome appends a closed trade to the log and updates the breaker.
// A zero timestamp is stamped with the engine clock. At most one outcome is
// logged per position id.
func (e *Engine) RecordOutcome(ctx context.Context, outcome types.TradeOutcome) (safety.BreakerState, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = e.clock()
	}
	if err := e.recordOutcome(ctx, outcome); err != nil {
		return e.breaker.Snapshot(), err
	}
	return e.breaker.Snapshot(), nil
}

func (e *Engine) recordOutcome(ctx context.Context, outcome types.TradeOutcome) error {
	const op = "record outcome"
	if err := safety.NewValidator().ValidateSymbol(outcome.Symbol).Err(component, op); err != nil {
		return err
	}
	if math.IsNaN(outcome.PnLUSD) || math.IsInf(outcome.PnLUSD, 0) {
		return rerrors.NewInvalidInput(component, op, fmt.Sprintf("pnl must be a finite number, got %v", outcome.PnLUSD), nil)
	}
	if _, dup := e.closed[outcome.PositionID]; dup && outcome.PositionID != "" {
		return rerrors.NewInvalidInput(component, op,
			fmt.Sprintf("an outcome for position %s is already recorded", outcome.PositionID), nil)
	}

	if err := e.store.AppendOutcome(ctx, outcome); err != nil {
		e.storageFailed("append outcome", err)
		return err
	}
	state := e.breaker.RecordOutcome(outcome)
	e.daily.add(outcome)
	if outcome.PositionID != "" {
		e.closed[outcome.PositionID] = outcome
	}
	e.metrics.RecordOutcome(outcome.IsWin())

	e.logger.Info("Outcome %s $%.2f recorded: breaker %s, %d consecutive losses",
		outcome.Symbol, outcome.PnLUSD, state.State, state.ConsecutiveLosses)
	return nil
}

func (e *Engine) storageFailed(op string, err error) {
	e.logger.LogError(op, err)
	e.metrics.RecordError("storage")
	if e.health != nil {
		e.health.RecordError(err)
	}
}

// Breaker returns the circuit breaker state as of now
func (e *Engine) Breaker() safety.BreakerState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.breaker.CheckStatus(e.clock())
}

// Positions returns the open positions ordered by open time
func (e *Engine) Positions() []types.OpenPositionRisk {
	return e.heat.Positions()
}

// dailyLedger accumulates realized PnL per UTC day
type dailyLedger struct {
	days map[time.Time]dayTotal
}

type dayTotal struct {
	pnl   float64
	count int
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (d *dailyLedger) add(o types.TradeOutcome) {
	if d.days == nil {
		d.days = make(map[time.Time]dayTotal)
	}
	day := utcDay(o.Timestamp)
	total := d.days[day]
	total.pnl += o.PnLUSD
	total.count++
	d.days[day] = total
}

func (d *dailyLedger) pnl(now time.Time) float64 {
	return d.days[utcDay(now)].pnl
}

func (d *dailyLedger) outcomes(now time.Time) int {
	return d.days[utcDay(now)].count
}
