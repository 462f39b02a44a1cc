package types

import "time"

// TradeOutcome is one closed trade as reported by the caller. Outcomes form an
// append-only log; they are never mutated once recorded.
type TradeOutcome struct {
	Symbol     string    `json:"symbol" yaml:"symbol"`
	PnLUSD     float64   `json:"pnl_usd" yaml:"pnl_usd"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	PositionID string    `json:"position_id,omitempty" yaml:"position_id,omitempty"`
}

// IsWin reports whether the trade closed with a strictly positive PnL.
func (o TradeOutcome) IsWin() bool {
	return o.PnLUSD > 0
}

// OpenPositionRisk is the dollar risk (loss to stop) carried by one open position.
type OpenPositionRisk struct {
	ID            string    `json:"id" yaml:"id"`
	Symbol        string    `json:"symbol" yaml:"symbol"`
	Sector        string    `json:"sector,omitempty" yaml:"sector,omitempty"`
	RiskAmountUSD float64   `json:"risk_amount_usd" yaml:"risk_amount_usd"`
	OpenedAt      time.Time `json:"opened_at" yaml:"opened_at"`
}

// AssetExposure is the current dollar exposure to one asset.
type AssetExposure struct {
	Symbol   string  `json:"symbol" yaml:"symbol"`
	Sector   string  `json:"sector" yaml:"sector"`
	ValueUSD float64 `json:"value_usd" yaml:"value_usd"`
}
