package risk

import (
	"context"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	"github.com/ducminhle1904/crypto-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// ScoreComponents are the normalized inputs of the overall risk score, each in [0,1]
type ScoreComponents struct {
	Heat          float64  `json:"heat"`
	Breaker       float64  `json:"breaker"`
	DailyLoss     float64  `json:"daily_loss"`
	Concentration *float64 `json:"concentration,omitempty"`
}

// Status is a point-in-time view of the account's risk
type Status struct {
	Account   string              `json:"account"`
	EquityUSD float64             `json:"equity_usd"`
	Breaker   safety.BreakerState `json:"breaker"`
	Heat      portfolio.HeatStatus `json:"heat"`

	DailyPnLUSD          float64 `json:"daily_pnl_usd"`
	DailyLossBudgetUSD   float64 `json:"daily_loss_budget_usd"`
	DailyLossUtilization float64 `json:"daily_loss_utilization"`
	OutcomesToday        int     `json:"outcomes_today"`

	Concentration *concentration.ConcentrationReport `json:"concentration,omitempty"`

	RiskScore   float64         `json:"risk_score"` // 0.0 to 1.0
	Components  ScoreComponents `json:"components"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Status reports breaker, heat and daily loss for the given equity
func (e *Engine) Status(ctx context.Context, equity float64) (Status, error) {
	return e.StatusWithBook(ctx, equity, nil)
}

// StatusWithBook also folds the concentration of book into the risk score.
// A nil book leaves concentration out of the score.
func (e *Engine) StatusWithBook(ctx context.Context, equity float64, book map[string]types.AssetExposure) (Status, error) {
	var report *concentration.ConcentrationReport
	if book != nil {
		r, err := e.analyzer.Analyze(book)
		if err != nil {
			return Status{}, err
		}
		report = &r
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := e.clock()
	heat, err := e.heat.CheckHeat(0, equity)
	if err != nil {
		return Status{}, err
	}
	breaker := e.breaker.CheckStatus(now)

	status := Status{
		Account:            e.config.Account,
		EquityUSD:          equity,
		Breaker:            breaker,
		Heat:               heat,
		DailyPnLUSD:        e.daily.pnl(now),
		DailyLossBudgetUSD: e.config.Sizing.MaxDailyLossFraction * equity,
		OutcomesToday:      e.daily.outcomes(now),
		Concentration:      report,
		GeneratedAt:        now,
	}
	if status.DailyLossBudgetUSD > 0 && status.DailyPnLUSD < 0 {
		status.DailyLossUtilization = clamp01(-status.DailyPnLUSD / status.DailyLossBudgetUSD)
	}

	status.Components = ScoreComponents{
		Heat:      clamp01(heat.HeatFraction / e.config.Heat.MaxPortfolioHeat),
		Breaker:   breakerPressure(breaker, e.config.Breaker),
		DailyLoss: status.DailyLossUtilization,
	}
	if report != nil && !report.EmptyBook {
		hhi := clamp01(report.HHI)
		status.Components.Concentration = &hhi
	}
	status.RiskScore = riskScore(status.Components, e.config.ScoreWeights)

	e.metrics.UpdateHeat(heat.HeatFraction, heat.OpenPositions)
	e.metrics.UpdateBreaker(string(breaker.State), breaker.ConsecutiveLosses)
	return status, nil
}

// breakerPressure is 1 while halted, otherwise the loss streak relative to the hard limit
func breakerPressure(s safety.BreakerState, c safety.BreakerConfig) float64 {
	if s.IsHalted() {
		return 1
	}
	return clamp01(float64(s.ConsecutiveLosses) / float64(c.HardLossLimit))
}

// riskScore is the weighted mean of the components. A missing concentration
// component drops out together with its weight.
func riskScore(c ScoreComponents, w ScoreWeights) float64 {
	sum := w.Heat*c.Heat + w.Breaker*c.Breaker + w.DailyLoss*c.DailyLoss
	total := w.Heat + w.Breaker + w.DailyLoss
	if c.Concentration != nil {
		sum += w.Concentration * *c.Concentration
		total += w.Concentration
	}
	if total <= 0 {
		return 0
	}
	return clamp01(sum / total)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
