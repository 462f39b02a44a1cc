package reporting

import "github.com/ducminhle1904/crypto-risk-engine/pkg/types"

// OutcomeStats summarizes an outcome log
type OutcomeStats struct {
	Count               int     `json:"count"`
	Wins                int     `json:"wins"`
	Losses              int     `json:"losses"`
	WinRate             float64 `json:"win_rate"`
	NetPnLUSD           float64 `json:"net_pnl_usd"`
	AvgWinUSD           float64 `json:"avg_win_usd"`
	AvgLossUSD          float64 `json:"avg_loss_usd"` // positive magnitude
	LongestLosingStreak int     `json:"longest_losing_streak"`
}

// SummarizeOutcomes computes win rate, averages and the longest losing streak.
// Breakeven outcomes count as losses, the same way the circuit breaker counts them.
func SummarizeOutcomes(outcomes []types.TradeOutcome) OutcomeStats {
	var s OutcomeStats
	var winSum, lossSum float64
	streak := 0

	for _, o := range outcomes {
		s.Count++
		s.NetPnLUSD += o.PnLUSD
		if o.IsWin() {
			s.Wins++
			winSum += o.PnLUSD
			streak = 0
			continue
		}
		s.Losses++
		lossSum += -o.PnLUSD
		streak++
		if streak > s.LongestLosingStreak {
			s.LongestLosingStreak = streak
		}
	}

	if s.Count > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Count)
	}
	if s.Wins > 0 {
		s.AvgWinUSD = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossUSD = lossSum / float64(s.Losses)
	}
	return s
}
