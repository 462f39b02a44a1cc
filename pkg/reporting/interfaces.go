// Package reporting renders risk engine results for terminals, spreadsheets
// and JSON consumers.
package reporting

import (
	"io"

	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// ConsoleReporter defines interface for console output
type ConsoleReporter interface {
	PrintHealth(report collateral.HealthReport)
	PrintConcentration(report concentration.ConcentrationReport)
	PrintSizing(result sizing.Result)
	PrintStatus(status risk.Status)
	PrintPositions(positions []types.OpenPositionRisk)
	PrintOutcomes(outcomes []types.TradeOutcome)
}

// ExcelReporter defines interface for Excel output
type ExcelReporter interface {
	WriteLedgerXLSX(ledger Ledger, path string) error
}

// CSVReporter defines interface for CSV output
type CSVReporter interface {
	WriteOutcomesCSV(outcomes []types.TradeOutcome, path string) error
	WriteOutcomes(w io.Writer, outcomes []types.TradeOutcome) error
}

// Ledger is the exported state of one account
type Ledger struct {
	Account   string                   `json:"account"`
	Positions []types.OpenPositionRisk `json:"positions"`
	Outcomes  []types.TradeOutcome     `json:"outcomes"`
	Status    *risk.Status             `json:"status,omitempty"`
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle        int
	CurrencyStyle      int
	PercentStyle       int
	BaseStyle          int
	DateStyle          int
	RedCurrencyStyle   int
	GreenCurrencyStyle int
	SummaryStyle       int
}
