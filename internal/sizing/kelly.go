package sizing

import "math"

// EdgeStats summarizes the historical edge of a strategy
type EdgeStats struct {
	WinRate float64 `json:"win_rate" yaml:"win_rate"` // fraction of winning trades, [0,1]
	AvgWin  float64 `json:"avg_win" yaml:"avg_win"`   // mean winning trade in USD, > 0
	AvgLoss float64 `json:"avg_loss" yaml:"avg_loss"` // mean losing trade in USD as a positive number
}

// KellyFraction returns the Kelly bet fraction clamped to [0, maxFraction].
// Formula: f* = W - (1 - W) × (AvgLoss / AvgWin)
//
// Example: W=0.55, AvgWin=$150, AvgLoss=$100 gives 0.55 - 0.45 × 0.667 = 0.25
//
// The raw value is only an upper bound; a negative edge clamps to 0. Inputs
// outside their domain (AvgWin ≤ 0, NaN) also yield 0.
func KellyFraction(stats EdgeStats, maxFraction float64) float64 {
	if stats.AvgWin <= 0 || stats.AvgLoss < 0 || maxFraction <= 0 {
		return 0
	}
	raw := stats.WinRate - (1-stats.WinRate)*(stats.AvgLoss/stats.AvgWin)
	if math.IsNaN(raw) {
		return 0
	}
	return math.Min(maxFraction, math.Max(0, raw))
}
