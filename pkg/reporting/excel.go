package reporting

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const (
	positionsSheet = "Open Positions"
	outcomesSheet  = "Outcomes"
	summarySheet   = "Summary"
)

// DefaultExcelReporter implements Excel output functionality
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteLedgerXLSX writes open positions, outcomes and a summary to an Excel workbook
func (r *DefaultExcelReporter) WriteLedgerXLSX(ledger Ledger, path string) error {
	if err := EnsureDirectoryExists(filepath.Dir(path)); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	// Replace default sheet and create additional sheets
	if err := fx.SetSheetName(fx.GetSheetName(0), positionsSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(outcomesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return fmt.Errorf("failed to create excel styles: %w", err)
	}

	if err := r.writePositionsSheet(fx, ledger.Positions, styles); err != nil {
		return err
	}
	if err := r.writeOutcomesSheet(fx, ledger.Outcomes, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, ledger, styles); err != nil {
		return err
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func lightBorders() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}
}

// createExcelStyles creates all Excel styles
func (r *DefaultExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	// Header style - Dark blue background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"}, // Dark slate gray
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7, // Currency format with $ symbol
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders(),
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10, // 0.00%
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders(),
	})
	if err != nil {
		return styles, err
	}

	// Losses in red
	styles.RedCurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders(),
	})
	if err != nil {
		return styles, err
	}

	// Wins in green
	styles.GreenCurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders(),
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: lightBorders()})
	if err != nil {
		return styles, err
	}

	dateFormat := "yyyy-mm-dd hh:mm:ss"
	styles.DateStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &dateFormat,
		Border:       lightBorders(),
	})
	if err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"4472C4"}, // Blue
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

func writeHeader(fx *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// setCell writes value into (col,row) with style
func setCell(fx *excelize.File, sheet string, col, row int, value interface{}, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := fx.SetCellValue(sheet, cell, value); err != nil {
		return err
	}
	return fx.SetCellStyle(sheet, cell, cell, style)
}

func (r *DefaultExcelReporter) writePositionsSheet(fx *excelize.File, positions []types.OpenPositionRisk, styles ExcelStyles) error {
	sheet := positionsSheet
	fx.SetColWidth(sheet, "A", "A", 30) // ID
	fx.SetColWidth(sheet, "B", "B", 12) // Symbol
	fx.SetColWidth(sheet, "C", "C", 14) // Sector
	fx.SetColWidth(sheet, "D", "D", 14) // Risk
	fx.SetColWidth(sheet, "E", "E", 20) // Opened

	if err := writeHeader(fx, sheet, []string{"ID", "Symbol", "Sector", "Risk (USD)", "Opened At (UTC)"}, styles.HeaderStyle); err != nil {
		return err
	}

	sorted := append([]types.OpenPositionRisk(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenedAt.Before(sorted[j].OpenedAt) })

	total := 0.0
	for i, p := range sorted {
		row := i + 2
		if err := setCell(fx, sheet, 1, row, p.ID, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 2, row, p.Symbol, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 3, row, p.Sector, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 4, row, p.RiskAmountUSD, styles.CurrencyStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 5, row, p.OpenedAt.UTC(), styles.DateStyle); err != nil {
			return err
		}
		total += p.RiskAmountUSD
	}

	row := len(sorted) + 2
	if err := setCell(fx, sheet, 1, row, "TOTAL", styles.SummaryStyle); err != nil {
		return err
	}
	return setCell(fx, sheet, 4, row, total, styles.CurrencyStyle)
}

func (r *DefaultExcelReporter) writeOutcomesSheet(fx *excelize.File, outcomes []types.TradeOutcome, styles ExcelStyles) error {
	sheet := outcomesSheet
	fx.SetColWidth(sheet, "A", "A", 20) // Timestamp
	fx.SetColWidth(sheet, "B", "B", 12) // Symbol
	fx.SetColWidth(sheet, "C", "C", 14) // PnL
	fx.SetColWidth(sheet, "D", "D", 8)  // Result
	fx.SetColWidth(sheet, "E", "E", 30) // Position
	fx.SetColWidth(sheet, "F", "F", 16) // Cumulative

	if err := writeHeader(fx, sheet, []string{"Timestamp (UTC)", "Symbol", "PnL (USD)", "Result", "Position ID", "Cumulative PnL"}, styles.HeaderStyle); err != nil {
		return err
	}

	cumulative := 0.0
	for i, o := range outcomes {
		row := i + 2
		cumulative += o.PnLUSD

		pnlStyle := styles.RedCurrencyStyle
		result := "LOSS"
		if o.IsWin() {
			pnlStyle = styles.GreenCurrencyStyle
			result = "WIN"
		}

		if err := setCell(fx, sheet, 1, row, o.Timestamp.UTC(), styles.DateStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 2, row, o.Symbol, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 3, row, o.PnLUSD, pnlStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 4, row, result, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 5, row, o.PositionID, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 6, row, cumulative, styles.CurrencyStyle); err != nil {
			return err
		}
	}
	return nil
}

func (r *DefaultExcelReporter) writeSummarySheet(fx *excelize.File, ledger Ledger, styles ExcelStyles) error {
	sheet := summarySheet
	fx.SetColWidth(sheet, "A", "A", 28) // Metric
	fx.SetColWidth(sheet, "B", "B", 22) // Value

	stats := SummarizeOutcomes(ledger.Outcomes)
	openRisk := 0.0
	for _, p := range ledger.Positions {
		openRisk += p.RiskAmountUSD
	}

	type line struct {
		label string
		value interface{}
		style int
	}
	lines := []line{
		{"Account", ledger.Account, styles.BaseStyle},
		{"Open Positions", len(ledger.Positions), styles.BaseStyle},
		{"Open Risk (USD)", openRisk, styles.CurrencyStyle},
		{"Outcomes", stats.Count, styles.BaseStyle},
		{"Wins", stats.Wins, styles.BaseStyle},
		{"Losses", stats.Losses, styles.BaseStyle},
		{"Win Rate", stats.WinRate, styles.PercentStyle},
		{"Net PnL (USD)", stats.NetPnLUSD, styles.CurrencyStyle},
		{"Average Win (USD)", stats.AvgWinUSD, styles.CurrencyStyle},
		{"Average Loss (USD)", stats.AvgLossUSD, styles.CurrencyStyle},
		{"Longest Losing Streak", stats.LongestLosingStreak, styles.BaseStyle},
	}
	if s := ledger.Status; s != nil {
		lines = append(lines,
			line{"Equity (USD)", s.EquityUSD, styles.CurrencyStyle},
			line{"Breaker State", string(s.Breaker.State), styles.BaseStyle},
			line{"Consecutive Losses", s.Breaker.ConsecutiveLosses, styles.BaseStyle},
			line{"Portfolio Heat", s.Heat.HeatFraction, styles.PercentStyle},
			line{"Daily PnL (USD)", s.DailyPnLUSD, styles.CurrencyStyle},
			line{"Daily Loss Utilization", s.DailyLossUtilization, styles.PercentStyle},
			line{"Risk Score", s.RiskScore, styles.PercentStyle},
		)
	}

	if err := setCell(fx, sheet, 1, 1, "RISK LEDGER SUMMARY", styles.SummaryStyle); err != nil {
		return err
	}
	if err := fx.MergeCell(sheet, "A1", "B1"); err != nil {
		return err
	}
	for i, l := range lines {
		row := i + 2
		if err := setCell(fx, sheet, 1, row, l.label, styles.BaseStyle); err != nil {
			return err
		}
		if err := setCell(fx, sheet, 2, row, l.value, l.style); err != nil {
			return err
		}
	}
	return nil
}

// WriteLedgerXLSX is a convenience function using the default Excel reporter
func WriteLedgerXLSX(ledger Ledger, path string) error {
	return NewDefaultExcelReporter().WriteLedgerXLSX(ledger, path)
}

