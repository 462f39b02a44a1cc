package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredMargin(t *testing.T) {
	calc := NewLeverageCalculator()

	tests := []struct {
		name           string
		notional       float64
		leverage       float64
		expectedMargin float64
	}{
		{
			name:           "10x leverage on $100 position",
			notional:       100.0,
			leverage:       10.0,
			expectedMargin: 10.0,
		},
		{
			name:           "50x leverage on $1000 position",
			notional:       1000.0,
			leverage:       50.0,
			expectedMargin: 20.0,
		},
		{
			name:           "1x leverage (spot) on $500 position",
			notional:       500.0,
			leverage:       1.0,
			expectedMargin: 500.0,
		},
		{
			name:           "Zero leverage should return full amount",
			notional:       200.0,
			leverage:       0.0,
			expectedMargin: 200.0,
		},
		{
			name:           "Leverage above limit is capped",
			notional:       2500.0,
			leverage:       500.0,
			expectedMargin: 20.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedMargin, calc.RequiredMargin(tt.notional, tt.leverage))
		})
	}
}

func TestLeverageValidation(t *testing.T) {
	calc := NewLeverageCalculatorWithLimits(1, 20)

	tests := []struct {
		name      string
		leverage  float64
		shouldErr bool
	}{
		{"Valid 10x leverage", 10.0, false},
		{"Valid spot", 1.0, false},
		{"Zero leverage", 0, true},
		{"Below minimum", 0.5, true},
		{"Above maximum", 25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := calc.ValidateLeverage(tt.leverage)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckMargin(t *testing.T) {
	calc := NewLeverageCalculator()

	t.Run("Comfortable leveraged position", func(t *testing.T) {
		// 4 units at $2,500 = $10,000 notional, 10x on $10,000 equity
		check := calc.CheckMargin(4, 2500, 10, 10000)
		assert.Equal(t, 10000.0, check.NotionalUSD)
		assert.Equal(t, 1000.0, check.RequiredMarginUSD)
		assert.InDelta(t, 0.1, check.MarginUtilization, 1e-12)
		assert.InDelta(t, 1.0, check.EffectiveLeverage, 1e-12)
		assert.Empty(t, check.Warnings)
	})

	t.Run("Spot position larger than equity", func(t *testing.T) {
		check := calc.CheckMargin(2, 10000, 0, 10000)
		assert.Equal(t, 1.0, check.Leverage)
		assert.Equal(t, 20000.0, check.RequiredMarginUSD)
		assert.Len(t, check.Warnings, 1)
		assert.Contains(t, check.Warnings[0], "Insufficient margin")
	})

	t.Run("Effective leverage warning", func(t *testing.T) {
		check := calc.CheckMargin(30, 10000, 100, 10000)
		assert.InDelta(t, 30.0, check.EffectiveLeverage, 1e-12)
		assert.Contains(t, check.Warnings[len(check.Warnings)-1], "High effective leverage")
	})
}
