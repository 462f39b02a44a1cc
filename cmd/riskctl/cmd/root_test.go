package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// cli runs riskctl against a file ledger in dir
type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) baseArgs() []string {
	return []string{
		"--env", filepath.Join(c.dir, "missing.env"),
		"--store", "file",
		"--store-path", filepath.Join(c.dir, "ledger.json"),
		"--account", "test",
		"--log-level", "error",
	}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(c.baseArgs(), args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func (c *cli) writeBook(content string) string {
	path := filepath.Join(c.dir, "book.yaml")
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHealthCommand(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("health", "--collateral", "10000", "--debt", "4000", "--threshold", "0.825", "--target", "2.5")
	assert.Contains(t, out, "2.0625")
	assert.Contains(t, out, "Repay $700.00")

	out = c.mustRun("--json", "health", "--collateral", "10000", "--threshold", "0.8")
	var decoded struct {
		Report struct {
			HealthFactor interface{}
			RiskLevel    string
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "infinite", decoded.Report.HealthFactor)
	assert.Equal(t, "SAFE", decoded.Report.RiskLevel)

	_, err := c.run("health", "--collateral", "10000", "--debt", "4000", "--threshold", "1.5")
	assert.Error(t, err)
}

func TestConcentrationCommand(t *testing.T) {
	c := newCLI(t)
	book := c.writeBook(`
exposures:
  - symbol: btcusdt
    sector: L1
    value_usd: 5000
  - symbol: ETHUSDT
    sector: L1
    value_usd: 3000
  - symbol: UNIUSDT
    sector: DeFi
    value_usd: 2000
`)
	out := c.mustRun("--json", "concentration", "--book", book)

	var report struct {
		TotalValueUSD float64
		HHI           float64
		RiskLevel     string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDelta(t, 10000, report.TotalValueUSD, 1e-9)
	assert.InDelta(t, 0.38, report.HHI, 1e-9)
	assert.Equal(t, "MEDIUM", report.RiskLevel)

	_, err := c.run("concentration")
	assert.Error(t, err, "--book is required")
}

func TestOpenCloseLifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("--json", "size", "--equity", "10000", "--symbol", "BTCUSDT", "--stop", "50")
	var sized struct {
		Size          float64 `json:"size"`
		RiskAmountUSD float64 `json:"risk_amount_usd"`
		Rejected      bool    `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sized))
	assert.False(t, sized.Rejected)
	assert.InDelta(t, 200, sized.RiskAmountUSD, 1e-9)
	assert.InDelta(t, 4, sized.Size, 1e-9)

	out = c.mustRun("--json", "positions")
	assert.JSONEq(t, "[]", out, "size does not record anything")

	out = c.mustRun("--json", "open", "--equity", "10000", "--symbol", "BTCUSDT", "--sector", "L1", "--stop", "50")
	var decision risk.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	require.NotNil(t, decision.Position)
	assert.InDelta(t, 200, decision.Position.RiskAmountUSD, 1e-9)

	out = c.mustRun("--json", "positions")
	var positions []types.OpenPositionRisk
	require.NoError(t, json.Unmarshal([]byte(out), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, decision.Position.ID, positions[0].ID)

	out = c.mustRun("--json", "close", decision.Position.ID, "--pnl", "-120")
	var closed outcomeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &closed))
	assert.Equal(t, -120.0, closed.Outcome.PnLUSD)
	assert.Equal(t, 1, closed.Breaker.ConsecutiveLosses)

	_, err := c.run("close", decision.Position.ID, "--pnl", "10")
	assert.Error(t, err, "position is already closed")

	out = c.mustRun("--json", "status", "--equity", "10000")
	var status risk.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "test", status.Account)
	assert.Equal(t, 0, status.Heat.OpenPositions)
	assert.InDelta(t, -120, status.DailyPnLUSD, 1e-9)
	assert.Equal(t, 1, status.OutcomesToday)
}

func TestOutcomesHaltTrading(t *testing.T) {
	c := newCLI(t)

	for i := 0; i < 2; i++ {
		c.mustRun("outcome", "ETHUSDT", "--pnl", "-10")
	}
	out := c.mustRun("outcome", "ETHUSDT", "--pnl", "-10")
	assert.Contains(t, out, "HALTED")

	out = c.mustRun("--json", "size", "--equity", "10000", "--symbol", "BTCUSDT", "--stop", "50")
	var sized struct {
		Rejected bool   `json:"rejected"`
		Method   string `json:"method"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sized))
	assert.True(t, sized.Rejected)
	assert.Equal(t, "CIRCUIT_BREAKER_HALTED", sized.Method)

	_, err := c.run("outcome", "", "--pnl", "5")
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	c := newCLI(t)
	c.mustRun("open", "--equity", "10000", "--symbol", "BTCUSDT", "--stop", "50")
	c.mustRun("outcome", "SOLUSDT", "--pnl", "75")

	xlsx := filepath.Join(c.dir, "out", "ledger.xlsx")
	out := c.mustRun("export", "--out", xlsx, "--equity", "10000")
	assert.Contains(t, out, xlsx)

	fx, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer fx.Close()
	rows, err := fx.GetRows("Outcomes")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	csvPath := filepath.Join(c.dir, "out", "outcomes.csv")
	c.mustRun("export", "--out", csvPath)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SOLUSDT,75.00,WIN")

	_, err = c.run("export", "--out", filepath.Join(c.dir, "ledger.txt"))
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("config")
	assert.Contains(t, out, "account: test")
	assert.Contains(t, out, "kind: file")

	_, err := c.run("--store", "redis", "config")
	assert.Error(t, err)
}

func TestServeMux(t *testing.T) {
	c := newCLI(t)
	opts := &rootOptions{
		envFile:  filepath.Join(c.dir, "missing.env"),
		store:    "memory",
		account:  "test",
		logLevel: "error",
	}
	a, err := opts.openApp(context.Background(), &cobra.Command{})
	require.NoError(t, err)
	defer a.Close()

	for i := 0; i < 2; i++ {
		_, err = a.engine.RecordOutcome(context.Background(), types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -5})
		require.NoError(t, err)
	}

	srv := httptest.NewServer(newServeMux(a))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "risk_engine_trade_outcomes_total")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status?equity=10000")
	require.NoError(t, err)
	var status risk.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, safety.StateReduced, status.Breaker.State)
	assert.Equal(t, 2, status.Breaker.ConsecutiveLosses)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
