package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
	"github.com/ducminhle1904/crypto-risk-engine/internal/concentration"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// DefaultConsoleReporter implements console output functionality
type DefaultConsoleReporter struct {
	out io.Writer
}

// NewDefaultConsoleReporter creates a console reporter writing to out (stdout when nil)
func NewDefaultConsoleReporter(out io.Writer) *DefaultConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &DefaultConsoleReporter{out: out}
}

func (r *DefaultConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func keyValueColumns() []table.ColumnConfig {
	return []table.ColumnConfig{
		{Number: 1, WidthMin: 24, Align: text.AlignLeft},
		{Number: 2, WidthMin: 18, Align: text.AlignRight},
	}
}

func usd(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func (r *DefaultConsoleReporter) printWarnings(title string, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(r.out, "⚠️  %s\n", title)
	for _, w := range warnings {
		fmt.Fprintf(r.out, "   - %s\n", w)
	}
}

// PrintHealth prints a collateral health report
func (r *DefaultConsoleReporter) PrintHealth(report collateral.HealthReport) {
	t := r.newTable("🏦 COLLATERAL HEALTH")
	t.AppendRows([]table.Row{
		{"Collateral", usd(report.Position.CollateralValueUSD)},
		{"Debt", usd(report.Position.DebtValueUSD)},
		{"Liquidation Threshold", pct(report.Position.LiquidationThreshold)},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Health Factor", report.HealthFactor.String()})
	t.AppendRow(table.Row{"Risk Level", string(report.RiskLevel)})

	switch report.LiquidationPrice.Status {
	case collateral.PriceKnown:
		t.AppendRow(table.Row{"Liquidation Price", usd(report.LiquidationPrice.Price)})
	case collateral.PriceNoDebt:
		t.AppendRow(table.Row{"Liquidation Price", "none (no debt)"})
	default:
		t.AppendRow(table.Row{"Liquidation Price", "unknown (units not given)"})
	}
	if report.HasDistance {
		t.AppendRow(table.Row{"Distance to Liquidation", fmt.Sprintf("%.2f%%", report.DistanceToLiquidation)})
	}
	t.SetColumnConfigs(keyValueColumns())
	t.Render()

	r.printWarnings("Warnings", report.Warnings)
}

// PrintConcentration prints a concentration report with its sector breakdown
func (r *DefaultConsoleReporter) PrintConcentration(report concentration.ConcentrationReport) {
	t := r.newTable("🧩 CONCENTRATION")
	t.AppendRows([]table.Row{
		{"Book Value", usd(report.TotalValueUSD)},
		{"Positions", report.PositionCount},
		{"HHI", fmt.Sprintf("%.4f", report.HHI)},
		{"Risk Level", string(report.RiskLevel)},
	})
	t.SetColumnConfigs(keyValueColumns())
	t.Render()

	if len(report.Sectors) > 0 {
		st := r.newTable("Sectors")
		st.AppendHeader(table.Row{"Sector", "Value", "Share", "Symbols"})
		for _, s := range report.Sectors {
			st.AppendRow(table.Row{s.Sector, usd(s.ValueUSD), pct(s.Share), strings.Join(s.Symbols, ", ")})
		}
		st.Render()
	}

	var violations []string
	for _, v := range report.SectorViolations {
		violations = append(violations, fmt.Sprintf("Sector %s at %s exceeds %s", v.Sector, pct(v.Share), pct(v.Limit)))
	}
	for _, v := range report.CorrelationViolations {
		violations = append(violations, fmt.Sprintf("%s/%s (%s) at %s exceeds %s",
			v.SymbolA, v.SymbolB, v.Sector, pct(v.CombinedShare), pct(v.Limit)))
	}
	r.printWarnings("Violations", violations)

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(r.out, "💡 Recommendations")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(r.out, "   - %s\n", rec)
		}
	}
}

// PrintSizing prints a sizing verdict
func (r *DefaultConsoleReporter) PrintSizing(result sizing.Result) {
	title := "✅ POSITION SIZE " + result.Symbol
	if result.Rejected {
		title = "⛔ REJECTED " + result.Symbol
	}
	t := r.newTable(title)
	t.AppendRow(table.Row{"Method", string(result.Method)})
	if result.Rejected {
		t.AppendRow(table.Row{"Reason", result.Reason})
	}
	t.AppendRows([]table.Row{
		{"Size (units)", fmt.Sprintf("%.6f", result.Size)},
		{"Risk", usd(result.RiskAmountUSD)},
		{"Baseline Risk", usd(result.BaselineRiskUSD)},
		{"Stop Distance", usd(result.StopDistanceUSD)},
	})
	if result.KellyFraction != nil {
		t.AppendRow(table.Row{"Kelly Fraction", pct(*result.KellyFraction)})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Breaker", fmt.Sprintf("%s (x%.2f)", result.Breaker.State, result.RiskReductionFactor)},
		{"Portfolio Heat", fmt.Sprintf("%s → %s", pct(result.Heat.HeatFraction), pct(result.Heat.ProjectedHeat))},
		{"Heat Remaining", usd(result.Heat.RemainingUSD)},
	})
	if m := result.Margin; m != nil {
		t.AppendRow(table.Row{"Required Margin", usd(m.RequiredMarginUSD)})
	}
	t.SetColumnConfigs(keyValueColumns())
	t.Render()

	r.printWarnings("Warnings", result.Warnings)
}

// PrintStatus prints the account risk status
func (r *DefaultConsoleReporter) PrintStatus(status risk.Status) {
	t := r.newTable("📊 RISK STATUS " + status.Account)
	t.AppendRows([]table.Row{
		{"Equity", usd(status.EquityUSD)},
		{"Risk Score", fmt.Sprintf("%.3f", status.RiskScore)},
	})
	t.AppendSeparator()

	breaker := string(status.Breaker.State)
	if status.Breaker.IsHalted() {
		breaker += " until " + status.Breaker.HaltedUntil.UTC().Format(time.RFC3339)
	}
	t.AppendRows([]table.Row{
		{"Circuit Breaker", breaker},
		{"Consecutive Losses", status.Breaker.ConsecutiveLosses},
		{"Risk Reduction", fmt.Sprintf("x%.2f", status.Breaker.RiskReductionFactor)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Open Positions", status.Heat.OpenPositions},
		{"Open Risk", usd(status.Heat.TotalOpenRiskUSD)},
		{"Portfolio Heat", fmt.Sprintf("%s (%s)", pct(status.Heat.HeatFraction), status.Heat.Level)},
		{"Heat Remaining", usd(status.Heat.RemainingUSD)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Daily PnL", usd(status.DailyPnLUSD)},
		{"Daily Loss Budget", usd(status.DailyLossBudgetUSD)},
		{"Daily Loss Used", pct(status.DailyLossUtilization)},
		{"Outcomes Today", status.OutcomesToday},
	})
	if status.Concentration != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Concentration", fmt.Sprintf("%s (HHI %.3f)", status.Concentration.RiskLevel, status.Concentration.HHI)})
	}
	t.SetColumnConfigs(keyValueColumns())
	t.Render()
}

// PrintPositions prints open positions, oldest first
func (r *DefaultConsoleReporter) PrintPositions(positions []types.OpenPositionRisk) {
	sorted := append([]types.OpenPositionRisk(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenedAt.Before(sorted[j].OpenedAt) })

	t := r.newTable("📂 OPEN POSITIONS")
	t.AppendHeader(table.Row{"ID", "Symbol", "Sector", "Risk", "Opened"})
	total := 0.0
	for _, p := range sorted {
		t.AppendRow(table.Row{p.ID, p.Symbol, p.Sector, usd(p.RiskAmountUSD), p.OpenedAt.UTC().Format(time.RFC3339)})
		total += p.RiskAmountUSD
	}
	t.AppendFooter(table.Row{"", "", "TOTAL", usd(total), len(sorted)})
	t.Render()
}

// PrintOutcomes prints the outcome log followed by its summary
func (r *DefaultConsoleReporter) PrintOutcomes(outcomes []types.TradeOutcome) {
	t := r.newTable("🧾 TRADE OUTCOMES")
	t.AppendHeader(table.Row{"Time", "Symbol", "PnL", "Result"})
	for _, o := range outcomes {
		result := "❌ LOSS"
		if o.IsWin() {
			result = "✅ WIN"
		}
		t.AppendRow(table.Row{o.Timestamp.UTC().Format(time.RFC3339), o.Symbol, usd(o.PnLUSD), result})
	}
	stats := SummarizeOutcomes(outcomes)
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d outcomes", stats.Count),
		fmt.Sprintf("win rate %s", pct(stats.WinRate)),
		usd(stats.NetPnLUSD),
		fmt.Sprintf("max streak %d", stats.LongestLosingStreak),
	})
	t.Render()
}
