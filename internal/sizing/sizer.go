package sizing

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
)

const component = "sizing"

// Method tags how a size was reached, or why it was refused
type Method string

const (
	MethodFixedFractional       Method = "FIXED_FRACTIONAL"
	MethodKellyCapped           Method = "KELLY_CAPPED"
	MethodHeatClamped           Method = "PORTFOLIO_HEAT_CLAMPED"
	MethodHeatExceeded          Method = "PORTFOLIO_HEAT_EXCEEDED"
	MethodBreakerHalted         Method = "CIRCUIT_BREAKER_HALTED"
	MethodDailyLossLimit        Method = "DAILY_LOSS_LIMIT"
	MethodNoEdge                Method = "NO_EDGE"
	MethodConcentrationCritical Method = "CONCENTRATION_CRITICAL"
)

// Config holds the sizing parameters
type Config struct {
	BaseRiskFraction          float64 `json:"base_risk_fraction" yaml:"base_risk_fraction"`
	KellyMaxFraction          float64 `json:"kelly_max_fraction" yaml:"kelly_max_fraction"`
	MaxDailyLossFraction      float64 `json:"max_daily_loss_fraction" yaml:"max_daily_loss_fraction"` // 0 disables
	MinStopVolatilityMultiple float64 `json:"min_stop_volatility_multiple" yaml:"min_stop_volatility_multiple"`
}

// DefaultConfig returns 2% baseline risk, a 25% Kelly cap and a 3% daily loss budget
func DefaultConfig() Config {
	return Config{
		BaseRiskFraction:          0.02,
		KellyMaxFraction:          0.25,
		MaxDailyLossFraction:      0.03,
		MinStopVolatilityMultiple: 1.0,
	}
}

// Validate checks all fractions are in range
func (c Config) Validate() error {
	switch {
	case c.BaseRiskFraction <= 0 || c.BaseRiskFraction > 1:
		return rerrors.NewConfigurationError(component, "base_risk_fraction", "must be in (0, 1]")
	case c.KellyMaxFraction <= 0 || c.KellyMaxFraction > 1:
		return rerrors.NewConfigurationError(component, "kelly_max_fraction", "must be in (0, 1]")
	case c.MaxDailyLossFraction < 0 || c.MaxDailyLossFraction > 1:
		return rerrors.NewConfigurationError(component, "max_daily_loss_fraction", "must be in [0, 1]")
	case c.MinStopVolatilityMultiple < 0:
		return rerrors.NewConfigurationError(component, "min_stop_volatility_multiple", "must not be negative")
	}
	return nil
}

// BreakerView is the circuit breaker as seen by the sizer
type BreakerView interface {
	CheckStatus(now time.Time) safety.BreakerState
}

// HeatView is the heat tracker as seen by the sizer
type HeatView interface {
	CheckHeat(proposedRisk, equity float64) (portfolio.HeatStatus, error)
}

// Request describes one candidate trade
type Request struct {
	EquityUSD       float64    `json:"equity_usd"`
	Symbol          string     `json:"symbol"`
	Sector          string     `json:"sector,omitempty"`
	Volatility      float64    `json:"volatility"` // e.g. ATR in USD per unit; 0 when unknown
	StopDistanceUSD float64    `json:"stop_distance_usd"`
	Edge            *EdgeStats `json:"edge,omitempty"`
	// Concentration of the book including the candidate; nil skips the check.
	Concentration *concentration.ConcentrationReport `json:"-"`
	// DailyPnLUSD is today's net realized PnL of the account.
	DailyPnLUSD float64 `json:"daily_pnl_usd"`
	// EntryPrice and Leverage add a margin check; EntryPrice 0 skips it.
	EntryPrice float64 `json:"entry_price,omitempty"`
	Leverage   float64 `json:"leverage,omitempty"`
}

// Result is the sizing verdict. Policy refusals are Rejected results, not errors.
type Result struct {
	Symbol              string                 `json:"symbol"`
	Size                float64                `json:"size"`
	RiskAmountUSD       float64                `json:"risk_amount_usd"`
	StopDistanceUSD     float64                `json:"stop_distance_usd"`
	Method              Method                 `json:"method"`
	Warnings            []string               `json:"warnings"`
	Rejected            bool                   `json:"rejected"`
	Reason              string                 `json:"reason,omitempty"`
	BaselineRiskUSD     float64                `json:"baseline_risk_usd"`
	KellyFraction       *float64               `json:"kelly_fraction,omitempty"`
	RiskReductionFactor float64                `json:"risk_reduction_factor"`
	Heat                portfolio.HeatStatus   `json:"heat"`
	Breaker             safety.BreakerState    `json:"breaker"`
	Margin              *portfolio.MarginCheck `json:"margin,omitempty"`
	DecidedAt           time.Time              `json:"decided_at"`
}

func (r *Result) reject(method Method, reason string) Result {
	r.Rejected = true
	r.Method = method
	r.Reason = reason
	r.Size = 0
	r.RiskAmountUSD = 0
	return *r
}

// Sizer turns a candidate trade into a position size. It reads the breaker
// and heat views but never mutates them.
type Sizer struct {
	config    Config
	breaker   BreakerView
	heat      HeatView
	clock     safety.Clock
	validator *safety.Validator
	leverage  *portfolio.LeverageCalculator
}

// Option customizes a Sizer
type Option func(*Sizer)

// WithClock sets the clock used to query the breaker
func WithClock(clock safety.Clock) Option {
	return func(s *Sizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLeverageCalculator sets the calculator used for margin checks
func WithLeverageCalculator(calc *portfolio.LeverageCalculator) Option {
	return func(s *Sizer) {
		if calc != nil {
			s.leverage = calc
		}
	}
}

// NewSizer creates a sizer over the given breaker and heat views
func NewSizer(config Config, breaker BreakerView, heat HeatView, opts ...Option) (*Sizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if breaker == nil || heat == nil {
		return nil, rerrors.NewConfigurationError(component, "collaborators", "breaker and heat views are required")
	}
	s := &Sizer{
		config:    config,
		breaker:   breaker,
		heat:      heat,
		clock:     safety.SystemClock,
		validator: safety.NewValidator(),
		leverage:  portfolio.NewLeverageCalculator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the sizing parameters
func (s *Sizer) Config() Config {
	return s.config
}

func (s *Sizer) validate(req Request) error {
	v := s.validator
	checks := []safety.ValidationResult{
		v.ValidateEquity(req.EquityUSD),
		v.ValidateStopDistance(req.StopDistanceUSD, req.Symbol),
		v.ValidateSymbol(req.Symbol),
		v.ValidateNonNegative(req.Volatility, "volatility"),
		v.ValidateNonNegative(req.EntryPrice, "entry price"),
		v.ValidateNonNegative(req.Leverage, "leverage"),
	}
	if req.Edge != nil {
		checks = append(checks,
			v.ValidateFractionRange(req.Edge.WinRate, 0, 1, "win rate"),
			v.ValidatePositive(req.Edge.AvgWin, "avg win"),
			v.ValidateNonNegative(req.Edge.AvgLoss, "avg loss"),
		)
	}
	return safety.First(checks...).Err(component, "size")
}

// Size runs the sizing pipeline, stopping at the first refusal.
func (s *Sizer) Size(req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	now := s.clock()
	result := Result{
		Symbol:          req.Symbol,
		StopDistanceUSD: req.StopDistanceUSD,
		Warnings:        make([]string, 0),
		DecidedAt:       now,
	}

	// 1. circuit breaker
	breaker := s.breaker.CheckStatus(now)
	result.Breaker = breaker
	result.RiskReductionFactor = breaker.RiskReductionFactor
	if breaker.IsHalted() {
		return result.reject(MethodBreakerHalted, fmt.Sprintf(
			"Trading halted after %d consecutive losses until %s",
			breaker.ConsecutiveLosses, breaker.HaltedUntil.Format(time.RFC3339))), nil
	}

	// daily loss budget
	if budget := s.config.MaxDailyLossFraction * req.EquityUSD; budget > 0 && -req.DailyPnLUSD >= budget {
		return result.reject(MethodDailyLossLimit, fmt.Sprintf(
			"Daily realized loss $%.2f reached the limit of $%.2f (%.1f%% of equity)",
			-req.DailyPnLUSD, budget, s.config.MaxDailyLossFraction*100)), nil
	}

	// 2. baseline
	baseline := s.config.BaseRiskFraction * req.EquityUSD * breaker.RiskReductionFactor
	result.BaselineRiskUSD = baseline
	candidate := baseline
	result.Method = MethodFixedFractional
	if breaker.State == safety.StateReduced {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Risk reduced to %.0f%% after %d consecutive losses",
			breaker.RiskReductionFactor*100, breaker.ConsecutiveLosses))
	}

	// 3. Kelly cap
	if req.Edge != nil && req.Edge.AvgLoss > 0 {
		f := KellyFraction(*req.Edge, s.config.KellyMaxFraction)
		result.KellyFraction = &f
		result.Method = MethodKellyCapped
		if kellyRisk := f * req.EquityUSD; kellyRisk < candidate {
			candidate = kellyRisk
		}
		if candidate <= 0 {
			return result.reject(MethodNoEdge, fmt.Sprintf(
				"No statistical edge: win rate %.1f%% with avg win $%.2f and avg loss $%.2f gives a Kelly fraction of 0",
				req.Edge.WinRate*100, req.Edge.AvgWin, req.Edge.AvgLoss)), nil
		}
	}

	// 4. portfolio heat
	heat, err := s.heat.CheckHeat(candidate, req.EquityUSD)
	if err != nil {
		return Result{}, err
	}
	if !heat.CanOpen {
		if heat.AllowedRiskUSD <= 0 {
			result.Heat = heat
			return result.reject(MethodHeatExceeded, fmt.Sprintf(
				"Portfolio heat %.2f%% leaves no room under the %.2f%% cap ($%.2f open of $%.2f)",
				heat.HeatFraction*100, heat.PortfolioCapUSD/req.EquityUSD*100,
				heat.TotalOpenRiskUSD, heat.PortfolioCapUSD)), nil
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Risk clamped from $%.2f to $%.2f to stay under the heat caps", candidate, heat.AllowedRiskUSD))
		candidate = heat.AllowedRiskUSD
		result.Method = MethodHeatClamped
		if heat, err = s.heat.CheckHeat(candidate, req.EquityUSD); err != nil {
			return Result{}, err
		}
	}
	result.Heat = heat

	// 5. size
	result.RiskAmountUSD = candidate
	result.Size = candidate / req.StopDistanceUSD

	// 6. concentration
	if report := req.Concentration; report != nil {
		result.Warnings = append(result.Warnings, report.WarningsForSector(req.Sector)...)
		if report.RiskLevel == concentration.RiskLevelCritical {
			return result.reject(MethodConcentrationCritical, fmt.Sprintf(
				"Book concentration is CRITICAL (HHI %.3f); adding %s would deepen it",
				report.HHI, req.Symbol)), nil
		}
	}

	// 7. volatility advisory
	if req.Volatility > 0 && req.StopDistanceUSD < s.config.MinStopVolatilityMultiple*req.Volatility {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Stop inside noise: stop distance $%.2f is below %.1fx volatility ($%.2f)",
			req.StopDistanceUSD, s.config.MinStopVolatilityMultiple, req.Volatility))
	}

	if req.EntryPrice > 0 {
		margin := s.leverage.CheckMargin(result.Size, req.EntryPrice, req.Leverage, req.EquityUSD)
		result.Margin = &margin
		result.Warnings = append(result.Warnings, margin.Warnings...)
	}

	return result, nil
}
