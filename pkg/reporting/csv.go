package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

var outcomeCSVHeader = []string{"timestamp", "symbol", "pnl_usd", "result", "position_id", "cumulative_pnl_usd"}

// DefaultCSVReporter implements CSV output functionality
type DefaultCSVReporter struct{}

// NewDefaultCSVReporter creates a new CSV reporter
func NewDefaultCSVReporter() *DefaultCSVReporter {
	return &DefaultCSVReporter{}
}

// WriteOutcomesCSV writes the outcome log to path. A .xlsx path is written as
// a workbook with only the outcomes populated.
func (r *DefaultCSVReporter) WriteOutcomesCSV(outcomes []types.TradeOutcome, path string) error {
	if err := EnsureDirectoryExists(filepath.Dir(path)); err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteLedgerXLSX(Ledger{Outcomes: outcomes}, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	return r.WriteOutcomes(f, outcomes)
}

// WriteOutcomes writes the outcome log as CSV to w
func (r *DefaultCSVReporter) WriteOutcomes(w io.Writer, outcomes []types.TradeOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(outcomeCSVHeader); err != nil {
		return err
	}

	cumulative := 0.0
	for _, o := range outcomes {
		cumulative += o.PnLUSD
		result := "LOSS"
		if o.IsWin() {
			result = "WIN"
		}
		if err := cw.Write([]string{
			o.Timestamp.UTC().Format(time.RFC3339),
			o.Symbol,
			strconv.FormatFloat(o.PnLUSD, 'f', 2, 64),
			result,
			o.PositionID,
			strconv.FormatFloat(cumulative, 'f', 2, 64),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteOutcomesCSV is a convenience function using the default CSV reporter
func WriteOutcomesCSV(outcomes []types.TradeOutcome, path string) error {
	return NewDefaultCSVReporter().WriteOutcomesCSV(outcomes, path)
}
