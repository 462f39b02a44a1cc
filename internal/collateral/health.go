package collateral

import (
	"encoding/json"
	"fmt"
	"math"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

const component = "collateral"

// RiskLevel is the health band of a collateralized debt position.
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "SAFE"
	RiskLevelCaution  RiskLevel = "CAUTION"
	RiskLevelWarning  RiskLevel = "WARNING"
	RiskLevelDanger   RiskLevel = "DANGER"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Position is a lending position at the moment of evaluation.
type Position struct {
	CollateralValueUSD   float64 `json:"collateral_value_usd" yaml:"collateral_value_usd"`
	DebtValueUSD         float64 `json:"debt_value_usd" yaml:"debt_value_usd"`
	LiquidationThreshold float64 `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	// CollateralUnits is only needed for a per-unit liquidation price; zero means unknown.
	CollateralUnits float64 `json:"collateral_units,omitempty" yaml:"collateral_units,omitempty"`
}

// HealthFactor is either a finite ratio or the infinite (no debt) variant.
// It never carries an IEEE infinity.
type HealthFactor struct {
	value    float64
	infinite bool
}

// FiniteHealthFactor wraps a computed ratio.
func FiniteHealthFactor(v float64) HealthFactor {
	return HealthFactor{value: v}
}

// InfiniteHealthFactor is the health factor of a position without debt.
func InfiniteHealthFactor() HealthFactor {
	return HealthFactor{infinite: true}
}

// IsInfinite reports the no-debt variant.
func (h HealthFactor) IsInfinite() bool {
	return h.infinite
}

// Value returns the ratio; ok is false for the infinite variant.
func (h HealthFactor) Value() (float64, bool) {
	if h.infinite {
		return 0, false
	}
	return h.value, true
}

// Below reports whether the factor is strictly below threshold. Infinite is never below.
func (h HealthFactor) Below(threshold float64) bool {
	return !h.infinite && h.value < threshold
}

func (h HealthFactor) String() string {
	if h.infinite {
		return "∞"
	}
	return fmt.Sprintf("%.4f", h.value)
}

// MarshalJSON encodes the finite variant as a number and the infinite one as "infinite".
func (h HealthFactor) MarshalJSON() ([]byte, error) {
	if h.infinite {
		return []byte(`"infinite"`), nil
	}
	return json.Marshal(h.value)
}

// PriceStatus tags a LiquidationPrice.
type PriceStatus string

const (
	PriceKnown        PriceStatus = "KNOWN"
	PriceNoDebt       PriceStatus = "NO_DEBT"
	PriceUnknownUnits PriceStatus = "UNKNOWN_UNITS"
)

// LiquidationPrice is the collateral price per unit at which hf reaches 1.0.
type LiquidationPrice struct {
	Status PriceStatus
	Price  float64 // meaningful only when Status == PriceKnown
}

// Bands holds the lower bounds (inclusive) of each level above CRITICAL.
type Bands struct {
	Danger  float64 `json:"danger" yaml:"danger"`
	Warning float64 `json:"warning" yaml:"warning"`
	Caution float64 `json:"caution" yaml:"caution"`
	Safe    float64 `json:"safe" yaml:"safe"`
}

// DefaultBands returns the standard health factor bands.
func DefaultBands() Bands {
	return Bands{
		Danger:  1.0,
		Warning: 1.3,
		Caution: 1.5,
		Safe:    2.0,
	}
}

// Validate checks the bands are positive and strictly increasing.
func (b Bands) Validate() error {
	if b.Danger <= 0 {
		return rerrors.NewConfigurationError(component, "danger", "must be positive")
	}
	if !(b.Danger < b.Warning && b.Warning < b.Caution && b.Caution < b.Safe) {
		return rerrors.NewConfigurationError(component, "bands", "must be strictly increasing")
	}
	return nil
}

// Level maps a health factor to its band.
func (b Bands) Level(hf HealthFactor) RiskLevel {
	v, ok := hf.Value()
	if !ok {
		return RiskLevelSafe
	}
	switch {
	case v < b.Danger:
		return RiskLevelCritical
	case v < b.Warning:
		return RiskLevelDanger
	case v < b.Caution:
		return RiskLevelWarning
	case v < b.Safe:
		return RiskLevelCaution
	default:
		return RiskLevelSafe
	}
}

// HealthReport is the result of one health evaluation.
type HealthReport struct {
	Position         Position
	HealthFactor     HealthFactor
	RiskLevel        RiskLevel
	LiquidationPrice LiquidationPrice
	// DistanceToLiquidation is the percent collateral drop that brings hf to 1.0.
	// Only set when HasDistance is true (finite hf).
	DistanceToLiquidation float64
	HasDistance           bool
	Warnings              []string
}

// Monitor evaluates collateralized debt positions. It holds no mutable state
// and is safe for concurrent use.
type Monitor struct {
	bands Bands
}

// NewMonitor creates a monitor with the default bands
func NewMonitor() *Monitor {
	return &Monitor{bands: DefaultBands()}
}

// NewMonitorWithBands creates a monitor with custom bands
func NewMonitorWithBands(bands Bands) (*Monitor, error) {
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{bands: bands}, nil
}

// Bands returns the configured bands.
func (m *Monitor) Bands() Bands {
	return m.bands
}

func invalid(op, msg string, sentinel error) error {
	return rerrors.NewInvalidInput(component, op, msg, sentinel)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validatePosition(op string, p Position) error {
	if !finite(p.CollateralValueUSD) || p.CollateralValueUSD < 0 {
		return invalid(op, fmt.Sprintf("collateral value must be a non-negative number, got %v", p.CollateralValueUSD), nil)
	}
	if !finite(p.DebtValueUSD) || p.DebtValueUSD < 0 {
		return invalid(op, fmt.Sprintf("debt value must be a non-negative number, got %v", p.DebtValueUSD), nil)
	}
	if !finite(p.LiquidationThreshold) || p.LiquidationThreshold <= 0 || p.LiquidationThreshold > 1 {
		return invalid(op, fmt.Sprintf("liquidation threshold must be in (0, 1], got %v", p.LiquidationThreshold), nil)
	}
	if !finite(p.CollateralUnits) || p.CollateralUnits < 0 {
		return invalid(op, fmt.Sprintf("collateral units must be a non-negative number, got %v", p.CollateralUnits), nil)
	}
	return nil
}

func validateTarget(op string, target float64) error {
	if !finite(target) || target <= 0 {
		return invalid(op, fmt.Sprintf("target health factor must be positive, got %v", target), nil)
	}
	return nil
}

// HealthFactorOf computes the health factor of a validated position.
// Formula: HF = (Collateral × Liquidation Threshold) / Debt
//
// Example: $10,000 collateral, $4,000 debt, 0.825 threshold = 2.0625
func HealthFactorOf(p Position) HealthFactor {
	if p.DebtValueUSD == 0 {
		return InfiniteHealthFactor()
	}
	hf := p.CollateralValueUSD * p.LiquidationThreshold / p.DebtValueUSD
	if math.IsInf(hf, 1) {
		// debt too small to divide by
		return InfiniteHealthFactor()
	}
	return FiniteHealthFactor(hf)
}

// Evaluate computes the health factor, band and liquidation price of a position.
func (m *Monitor) Evaluate(p Position) (HealthReport, error) {
	if err := validatePosition("evaluate", p); err != nil {
		return HealthReport{}, err
	}

	hf := HealthFactorOf(p)
	report := HealthReport{
		Position:     p,
		HealthFactor: hf,
		RiskLevel:    m.bands.Level(hf),
		Warnings:     make([]string, 0),
	}

	switch {
	case p.DebtValueUSD == 0:
		report.LiquidationPrice = LiquidationPrice{Status: PriceNoDebt}
	case p.CollateralUnits == 0:
		report.LiquidationPrice = LiquidationPrice{Status: PriceUnknownUnits}
	default:
		price, err := LiquidationPriceOf(p)
		if err != nil {
			return HealthReport{}, err
		}
		report.LiquidationPrice = LiquidationPrice{Status: PriceKnown, Price: price}
	}

	if !hf.IsInfinite() && p.CollateralValueUSD > 0 {
		report.DistanceToLiquidation = dropPercent(p, 1.0)
		report.HasDistance = true
	}

	m.addWarnings(&report)
	return report, nil
}

func (m *Monitor) addWarnings(r *HealthReport) {
	v, ok := r.HealthFactor.Value()
	if !ok {
		return
	}
	switch r.RiskLevel {
	case RiskLevelCritical:
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("Health factor %.3f is below %.2f: position is liquidatable", v, m.bands.Danger))
	case RiskLevelDanger, RiskLevelWarning:
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("Health factor %.3f: %.1f%% collateral drop triggers liquidation", v, r.DistanceToLiquidation))
	}
	if r.RiskLevel != RiskLevelSafe && r.Position.DebtValueUSD > 0 {
		if repay, err := RepayToReachHealthFactor(r.Position, m.bands.Safe); err == nil && repay > 0 {
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("Repay $%.2f of debt to restore health factor %.2f", repay, m.bands.Safe))
		}
	}
}

// LiquidationPriceOf returns the collateral price per unit at which the
// position becomes liquidatable.
// Formula: Liquidation Price = (Debt / Liquidation Threshold) / Collateral Units
func LiquidationPriceOf(p Position) (float64, error) {
	const op = "liquidation price"
	if err := validatePosition(op, p); err != nil {
		return 0, err
	}
	if p.DebtValueUSD == 0 {
		return 0, invalid(op, "no debt: position cannot be liquidated", rerrors.ErrNoDebt)
	}
	if p.CollateralUnits == 0 {
		return 0, invalid(op, "collateral units are zero", rerrors.ErrDivisionByZero)
	}
	return (p.DebtValueUSD / p.LiquidationThreshold) / p.CollateralUnits, nil
}

// dropPercent assumes a validated position with debt and collateral.
func dropPercent(p Position, target float64) float64 {
	required := target * p.DebtValueUSD / p.LiquidationThreshold
	return (1 - required/p.CollateralValueUSD) * 100
}

// CollateralDropToReachHealthFactor returns the percent fall in collateral
// value that brings the position exactly to target. A negative result means
// the position is already below target.
// Formula: Drop% = (1 - target × Debt / (Threshold × Collateral)) × 100
func CollateralDropToReachHealthFactor(p Position, target float64) (float64, error) {
	const op = "collateral drop"
	if err := validatePosition(op, p); err != nil {
		return 0, err
	}
	if err := validateTarget(op, target); err != nil {
		return 0, err
	}
	if p.DebtValueUSD == 0 {
		return 0, invalid(op, "no debt: health factor is infinite at any collateral value", rerrors.ErrNoDebt)
	}
	if p.CollateralValueUSD == 0 {
		return 0, invalid(op, "collateral value is zero", rerrors.ErrDivisionByZero)
	}
	return dropPercent(p, target), nil
}

// RepayToReachHealthFactor returns the debt reduction, holding collateral
// constant, that lifts the position to target. Zero when already at or above.
// Formula: Repay = max(0, Debt - Collateral × Threshold / target)
func RepayToReachHealthFactor(p Position, target float64) (float64, error) {
	const op = "repay amount"
	if err := validatePosition(op, p); err != nil {
		return 0, err
	}
	if err := validateTarget(op, target); err != nil {
		return 0, err
	}
	maxDebt := p.CollateralValueUSD * p.LiquidationThreshold / target
	return math.Max(0, p.DebtValueUSD-maxDebt), nil
}

// Evaluate is a convenience wrapper around a default Monitor.
func Evaluate(collateralUSD, debtUSD, liquidationThreshold float64) (HealthReport, error) {
	return NewMonitor().Evaluate(Position{
		CollateralValueUSD:   collateralUSD,
		DebtValueUSD:         debtUSD,
		LiquidationThreshold: liquidationThreshold,
	})
}
