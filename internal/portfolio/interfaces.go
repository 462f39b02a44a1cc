package portfolio

import (
	"context"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "portfolio"

// PositionStore persists the open-positions ledger. The tracker writes
// through it before touching memory.
type PositionStore interface {
	PutPosition(ctx context.Context, pos types.OpenPositionRisk) error
	DeletePosition(ctx context.Context, id string) error
}

// HeatConfig holds the open-risk ceilings as fractions of equity
type HeatConfig struct {
	MaxPositionHeat  float64 `json:"max_position_heat" yaml:"max_position_heat"`   // Max risk of one position
	MaxPortfolioHeat float64 `json:"max_portfolio_heat" yaml:"max_portfolio_heat"` // Max risk of all open positions
}

// DefaultHeatConfig returns 2% per position and 6% for the whole book
func DefaultHeatConfig() HeatConfig {
	return HeatConfig{
		MaxPositionHeat:  0.02,
		MaxPortfolioHeat: 0.06,
	}
}

// Validate checks both ceilings are in (0,1] and the position cap fits the portfolio cap
func (c HeatConfig) Validate() error {
	if c.MaxPositionHeat <= 0 || c.MaxPositionHeat > 1 {
		return rerrors.NewConfigurationError(component, "max_position_heat", "must be in (0, 1]")
	}
	if c.MaxPortfolioHeat <= 0 || c.MaxPortfolioHeat > 1 {
		return rerrors.NewConfigurationError(component, "max_portfolio_heat", "must be in (0, 1]")
	}
	if c.MaxPositionHeat > c.MaxPortfolioHeat {
		return rerrors.NewConfigurationError(component, "max_position_heat", "must not exceed max_portfolio_heat")
	}
	return nil
}

// HeatLevel describes how much of the portfolio cap is in use
type HeatLevel string

const (
	HeatLevelCool      HeatLevel = "COOL"      // below 50% of cap
	HeatLevelWarm      HeatLevel = "WARM"      // 50-80%
	HeatLevelHot       HeatLevel = "HOT"       // 80-100%
	HeatLevelSaturated HeatLevel = "SATURATED" // cap reached
)

func heatLevel(utilization float64) HeatLevel {
	switch {
	case utilization >= 1:
		return HeatLevelSaturated
	case utilization >= 0.8:
		return HeatLevelHot
	case utilization >= 0.5:
		return HeatLevelWarm
	default:
		return HeatLevelCool
	}
}

// HeatStatus is the result of a heat check
type HeatStatus struct {
	EquityUSD        float64   `json:"equity_usd"`
	TotalOpenRiskUSD float64   `json:"total_open_risk_usd"`
	ProposedRiskUSD  float64   `json:"proposed_risk_usd"`
	HeatFraction     float64   `json:"heat_fraction"`     // open risk / equity
	ProjectedHeat    float64   `json:"projected_heat"`    // (open + proposed) / equity
	Utilization      float64   `json:"utilization"`       // open risk / portfolio cap
	PositionCapUSD   float64   `json:"position_cap_usd"`  // MaxPositionHeat × equity
	PortfolioCapUSD  float64   `json:"portfolio_cap_usd"` // MaxPortfolioHeat × equity
	RemainingUSD     float64   `json:"remaining_usd"`     // portfolio cap - open risk, floored at 0
	AllowedRiskUSD   float64   `json:"allowed_risk_usd"`  // largest risk a new position may carry
	OpenPositions    int       `json:"open_positions"`
	CanOpen          bool      `json:"can_open"`
	Level            HeatLevel `json:"level"`
}
