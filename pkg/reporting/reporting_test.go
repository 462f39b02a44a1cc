package reporting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	"github.com/ducminhle1904/crypto-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleOutcomes() []types.TradeOutcome {
	return []types.TradeOutcome{
		{Symbol: "BTCUSDT", PnLUSD: 120, Timestamp: base, PositionID: "p1"},
		{Symbol: "ETHUSDT", PnLUSD: -50, Timestamp: base.Add(time.Hour), PositionID: "p2"},
		{Symbol: "SOLUSDT", PnLUSD: 0, Timestamp: base.Add(2 * time.Hour)},
		{Symbol: "BTCUSDT", PnLUSD: -30, Timestamp: base.Add(3 * time.Hour)},
		{Symbol: "ETHUSDT", PnLUSD: 60, Timestamp: base.Add(4 * time.Hour)},
	}
}

func samplePositions() []types.OpenPositionRisk {
	return []types.OpenPositionRisk{
		{ID: "b", Symbol: "ETHUSDT", Sector: "L1", RiskAmountUSD: 150, OpenedAt: base.Add(time.Hour)},
		{ID: "a", Symbol: "BTCUSDT", Sector: "L1", RiskAmountUSD: 200, OpenedAt: base},
	}
}

func TestSummarizeOutcomes(t *testing.T) {
	s := SummarizeOutcomes(sampleOutcomes())

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 3, s.Losses, "breakeven counts as a loss")
	assert.InDelta(t, 0.4, s.WinRate, 1e-9)
	assert.InDelta(t, 100.0, s.NetPnLUSD, 1e-9)
	assert.InDelta(t, 90.0, s.AvgWinUSD, 1e-9)
	assert.InDelta(t, 80.0/3, s.AvgLossUSD, 1e-9)
	assert.Equal(t, 3, s.LongestLosingStreak)

	assert.Equal(t, OutcomeStats{}, SummarizeOutcomes(nil))
}

func TestWriteOutcomesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outcomes.csv")
	require.NoError(t, WriteOutcomesCSV(sampleOutcomes(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, outcomeCSVHeader, rows[0])
	assert.Equal(t, []string{"2026-03-02T09:00:00Z", "BTCUSDT", "120.00", "WIN", "p1", "120.00"}, rows[1])
	assert.Equal(t, "LOSS", rows[3][3])
	assert.Equal(t, "100.00", rows[5][5])
}

func TestWriteLedgerXLSX(t *testing.T) {
	status := risk.Status{
		Account:   "main",
		EquityUSD: 10000,
		Breaker:   safety.BreakerState{State: safety.StateReduced, ConsecutiveLosses: 2, RiskReductionFactor: 0.75},
		Heat:      portfolio.HeatStatus{HeatFraction: 0.035, OpenPositions: 2},
		RiskScore: 0.42,
	}
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	require.NoError(t, WriteLedgerXLSX(Ledger{
		Account:   "main",
		Positions: samplePositions(),
		Outcomes:  sampleOutcomes(),
		Status:    &status,
	}, path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{positionsSheet, outcomesSheet, summarySheet}, fx.GetSheetList())

	rows, err := fx.GetRows(positionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4) // header, two positions, total
	assert.Equal(t, "a", rows[1][0], "oldest position first")
	assert.Equal(t, "TOTAL", rows[3][0])

	total, err := fx.GetCellValue(positionsSheet, "D4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "350", total)

	rows, err = fx.GetRows(outcomesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "WIN", rows[1][3])

	rows, err = fx.GetRows(summarySheet)
	require.NoError(t, err)
	labels := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 {
			labels = append(labels, r[0])
		}
	}
	assert.Contains(t, labels, "Breaker State")
	assert.Contains(t, labels, "Longest Losing Streak")
}

func TestWriteOutcomesCSVDelegatesToExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.xlsx")
	require.NoError(t, WriteOutcomesCSV(sampleOutcomes(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()
	rows, err := fx.GetRows(outcomesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestJSONOutput(t *testing.T) {
	report, err := collateral.Evaluate(1000, 0, 0.8)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, report))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "infinite", decoded["HealthFactor"])

	path := filepath.Join(t.TempDir(), "out", "stats.json")
	require.NoError(t, WriteJSON(SummarizeOutcomes(sampleOutcomes()), path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"longest_losing_streak": 3`)
}

func TestExportPath(t *testing.T) {
	pm := NewDefaultPathManager("out")
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, filepath.Join("out", "main", "ledger_20260302_120000.xlsx"), pm.ExportPath("Main", "ledger", ".xlsx", at))
	assert.Equal(t, filepath.Join("out", "default"), pm.GetDefaultOutputDir(" "))
	assert.True(t, strings.HasPrefix(DefaultExportPath("main", "outcomes", "csv"), filepath.Join("exports", "main")))
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewDefaultConsoleReporter(&buf)

	health, err := collateral.Evaluate(16500, 6400, 0.8)
	require.NoError(t, err)
	r.PrintHealth(health)
	assert.Contains(t, buf.String(), "COLLATERAL HEALTH")
	assert.Contains(t, buf.String(), "2.0625")

	buf.Reset()
	analyzer, err := concentration.NewAnalyzer(concentration.DefaultConfig())
	require.NoError(t, err)
	conc, err := analyzer.Analyze(map[string]types.AssetExposure{
		"BTCUSDT": {Symbol: "BTCUSDT", Sector: "L1", ValueUSD: 7000},
		"ETHUSDT": {Symbol: "ETHUSDT", Sector: "L1", ValueUSD: 3000},
	})
	require.NoError(t, err)
	r.PrintConcentration(conc)
	assert.Contains(t, buf.String(), "CONCENTRATION")
	assert.Contains(t, buf.String(), "Violations")

	buf.Reset()
	r.PrintSizing(sizing.Result{
		Symbol:   "BTCUSDT",
		Method:   sizing.MethodBreakerHalted,
		Rejected: true,
		Reason:   "halted after 3 consecutive losses",
		Breaker:  safety.BreakerState{State: safety.StateHalted},
	})
	assert.Contains(t, buf.String(), "REJECTED BTCUSDT")
	assert.Contains(t, buf.String(), "CIRCUIT_BREAKER_HALTED")

	buf.Reset()
	r.PrintPositions(samplePositions())
	out := buf.String()
	assert.Contains(t, out, "$350.00")
	assert.Less(t, strings.Index(out, "BTCUSDT"), strings.Index(out, "ETHUSDT"))

	buf.Reset()
	r.PrintOutcomes(sampleOutcomes())
	assert.Contains(t, buf.String(), "5 outcomes")
	assert.Contains(t, buf.String(), "-$50.00")

	buf.Reset()
	r.PrintStatus(risk.Status{
		Account: "main",
		Breaker: safety.BreakerState{State: safety.StateHalted, HaltedUntil: base.Add(24 * time.Hour)},
	})
	assert.Contains(t, buf.String(), "HALTED until 2026-03-03T09:00:00Z")
}
