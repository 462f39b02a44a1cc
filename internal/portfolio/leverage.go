package portfolio

import (
	"fmt"
)

// LeverageCalculator handles margin arithmetic for leveraged positions
type LeverageCalculator struct {
	maxLeverage float64
	minLeverage float64
}

// NewLeverageCalculator creates a new leverage calculator with default limits
func NewLeverageCalculator() *LeverageCalculator {
	return &LeverageCalculator{
		maxLeverage: 125.0, // Highest leverage offered on major perpetual venues
		minLeverage: 1.0,   // Spot
	}
}

// NewLeverageCalculatorWithLimits creates a leverage calculator with custom limits
func NewLeverageCalculatorWithLimits(minLev, maxLev float64) *LeverageCalculator {
	return &LeverageCalculator{
		maxLeverage: maxLev,
		minLeverage: minLev,
	}
}

// ValidateLeverage validates if the leverage value is acceptable
func (c *LeverageCalculator) ValidateLeverage(leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be greater than 0, got: %.2f", leverage)
	}
	if leverage < c.minLeverage {
		return fmt.Errorf("leverage %.2f is below minimum allowed %.2f", leverage, c.minLeverage)
	}
	if leverage > c.maxLeverage {
		return fmt.Errorf("leverage %.2f exceeds maximum allowed %.2f", leverage, c.maxLeverage)
	}
	return nil
}

// RequiredMargin calculates the margin required for a position with given leverage
// Formula: Required Margin = Notional / Leverage
//
// Example: $10,000 notional with 10x leverage = $1,000 margin required
func (c *LeverageCalculator) RequiredMargin(notional, leverage float64) float64 {
	if leverage <= 0 {
		return notional
	}
	if leverage > c.maxLeverage {
		leverage = c.maxLeverage
	}
	if leverage < c.minLeverage {
		leverage = c.minLeverage
	}
	return notional / leverage
}

// EffectiveLeverage is notional over equity, the leverage the whole account
// carries for this position alone.
func (c *LeverageCalculator) EffectiveLeverage(notional, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return notional / equity
}

// MarginCheck describes the margin footprint of a sized position
type MarginCheck struct {
	NotionalUSD       float64  `json:"notional_usd"`
	Leverage          float64  `json:"leverage"`
	RequiredMarginUSD float64  `json:"required_margin_usd"`
	MarginUtilization float64  `json:"margin_utilization"` // required margin / equity
	EffectiveLeverage float64  `json:"effective_leverage"` // notional / equity
	Warnings          []string `json:"warnings"`
}

// CheckMargin computes the margin a position of size units at price needs.
// leverage ≤ 0 is treated as spot (1x).
func (c *LeverageCalculator) CheckMargin(size, price, leverage, equity float64) MarginCheck {
	if leverage <= 0 {
		leverage = 1
	}
	notional := size * price
	check := MarginCheck{
		NotionalUSD:       notional,
		Leverage:          leverage,
		RequiredMarginUSD: c.RequiredMargin(notional, leverage),
		EffectiveLeverage: c.EffectiveLeverage(notional, equity),
		Warnings:          make([]string, 0),
	}
	if equity > 0 {
		check.MarginUtilization = check.RequiredMarginUSD / equity
	}

	if check.RequiredMarginUSD > equity {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("Insufficient margin: need $%.2f, equity $%.2f", check.RequiredMarginUSD, equity))
	} else if check.MarginUtilization > 0.8 {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("High margin utilization: %.1f%%", check.MarginUtilization*100))
	}
	if check.EffectiveLeverage > 25 {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("High effective leverage: %.1fx", check.EffectiveLeverage))
	}
	return check
}
