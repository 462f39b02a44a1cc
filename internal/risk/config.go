package risk

import (
	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
)

const component = "risk"

// Config contains all risk management configuration of one account
type Config struct {
	Account string `json:"account" yaml:"account"`

	Sizing        sizing.Config        `json:"sizing" yaml:"sizing"`
	Heat          portfolio.HeatConfig `json:"heat" yaml:"heat"`
	Breaker       safety.BreakerConfig `json:"breaker" yaml:"breaker"`
	Concentration concentration.Config `json:"concentration" yaml:"concentration"`
	HealthBands   collateral.Bands     `json:"health_bands" yaml:"health_bands"`

	// Sectors fills or overrides the sector of a symbol in concentration analysis
	Sectors map[string]string `json:"sectors,omitempty" yaml:"sectors,omitempty"`

	ScoreWeights ScoreWeights `json:"score_weights" yaml:"score_weights"`
}

// ScoreWeights weighs the contributions to the overall risk score
type ScoreWeights struct {
	Heat          float64 `json:"heat" yaml:"heat"`
	Breaker       float64 `json:"breaker" yaml:"breaker"`
	DailyLoss     float64 `json:"daily_loss" yaml:"daily_loss"`
	Concentration float64 `json:"concentration" yaml:"concentration"`
}

// DefaultScoreWeights returns heat 35%, breaker 25%, daily loss 25%, concentration 15%
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Heat:          0.35,
		Breaker:       0.25,
		DailyLoss:     0.25,
		Concentration: 0.15,
	}
}

// Validate checks no weight is negative and at least one is set
func (w ScoreWeights) Validate() error {
	if w.Heat < 0 || w.Breaker < 0 || w.DailyLoss < 0 || w.Concentration < 0 {
		return rerrors.NewConfigurationError(component, "score_weights", "weights must not be negative")
	}
	if w.Heat+w.Breaker+w.DailyLoss+w.Concentration <= 0 {
		return rerrors.NewConfigurationError(component, "score_weights", "at least one weight must be positive")
	}
	return nil
}

// DefaultConfig returns the default risk configuration
func DefaultConfig() Config {
	return Config{
		Account:       "default",
		Sizing:        sizing.DefaultConfig(),
		Heat:          portfolio.DefaultHeatConfig(),
		Breaker:       safety.DefaultBreakerConfig(),
		Concentration: concentration.DefaultConfig(),
		HealthBands:   collateral.DefaultBands(),
		ScoreWeights:  DefaultScoreWeights(),
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if c.Account == "" {
		return rerrors.NewConfigurationError(component, "account", "must not be empty")
	}
	for _, validate := range []func() error{
		c.Sizing.Validate,
		c.Heat.Validate,
		c.Breaker.Validate,
		c.Concentration.Validate,
		c.HealthBands.Validate,
		c.ScoreWeights.Validate,
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}
