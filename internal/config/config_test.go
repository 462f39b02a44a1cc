package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsMatchPolicy(t *testing.T) {
	c, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, risk.DefaultConfig(), c.Risk)
	assert.Equal(t, 0.02, c.Risk.Sizing.BaseRiskFraction)
	assert.Equal(t, 0.25, c.Risk.Sizing.KellyMaxFraction)
	assert.Equal(t, 0.02, c.Risk.Heat.MaxPositionHeat)
	assert.Equal(t, 0.06, c.Risk.Heat.MaxPortfolioHeat)
	assert.Equal(t, 2, c.Risk.Breaker.SoftLossLimit)
	assert.Equal(t, 3, c.Risk.Breaker.HardLossLimit)
	assert.Equal(t, 24*time.Hour, c.Risk.Breaker.Cooldown)
	assert.Equal(t, 0.40, c.Risk.Concentration.MaxSectorFraction)
	assert.Equal(t, 0.30, c.Risk.Concentration.MaxSameSectorPairFraction)
	assert.Equal(t, storage.KindFile, c.Store.Kind)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "risk.yaml", `
environment: production
store:
  kind: sqlite
  path: /var/lib/risk/risk.db
risk:
  account: main
  sizing:
    base_risk_fraction: 0.01
  breaker:
    hard_loss_limit: 4
    cooldown_duration: 12h
  sectors:
    BTCUSDT: L1
    UNIUSDT: DeFi
`)
	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, "main", c.Risk.Account)
	assert.Equal(t, 0.01, c.Risk.Sizing.BaseRiskFraction)
	assert.Equal(t, 0.25, c.Risk.Sizing.KellyMaxFraction, "unset keys keep their default")
	assert.Equal(t, 4, c.Risk.Breaker.HardLossLimit)
	assert.Equal(t, 12*time.Hour, c.Risk.Breaker.Cooldown)
	assert.Equal(t, "DeFi", c.Risk.Sectors["UNIUSDT"])

	opts := c.StoreOptions()
	assert.Equal(t, storage.KindSQLite, opts.Kind)
	assert.Equal(t, "main", opts.Account)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "risk.yaml", "risk:\n  heat:\n    max_portfolio_heat: 0.05\n")
	envFile := writeFile(t, ".env", "RISK_MAX_POSITION_HEAT=0.015\nRISK_ACCOUNT=from-dotenv\n")
	t.Setenv("RISK_MAX_PORTFOLIO_HEAT", "0.04")
	t.Setenv("RISK_COOLDOWN", "6h")
	t.Setenv("RISK_STORE", "memory")
	t.Setenv("RISK_ACCOUNT", "from-env")

	c, err := Load(path, envFile)
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("RISK_MAX_POSITION_HEAT") })

	assert.Equal(t, 0.04, c.Risk.Heat.MaxPortfolioHeat)
	assert.Equal(t, 0.015, c.Risk.Heat.MaxPositionHeat)
	assert.Equal(t, 6*time.Hour, c.Risk.Breaker.Cooldown)
	assert.Equal(t, storage.KindMemory, c.Store.Kind)
	assert.Equal(t, "from-env", c.Risk.Account, ".env never overrides the process environment")
}

func TestInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"Unknown key", "risk:\n  sizing:\n    base_risk: 0.01\n", nil},
		{"Position heat above portfolio heat", "risk:\n  heat:\n    max_position_heat: 0.1\n", nil},
		{"Hard limit below soft limit", "risk:\n  breaker:\n    soft_loss_limit: 3\n    hard_loss_limit: 2\n", nil},
		{"Unknown store", "store:\n  kind: redis\n", nil},
		{"Postgres without dsn", "store:\n  kind: postgres\n", nil},
		{"Bad log format", "log:\n  format: xml\n", nil},
		{"Unparsable env float", "", map[string]string{"RISK_BASE_RISK_FRACTION": "two percent"}},
		{"Unparsable env duration", "", map[string]string{"RISK_COOLDOWN": "a day"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "risk.yaml", tt.yaml)
			}
			_, err := Load(path, "")
			assert.Error(t, err)
		})
	}
}

func TestValidationErrorsAreConfigErrors(t *testing.T) {
	c := Default()
	c.Risk.Sizing.KellyMaxFraction = 0
	err := c.Validate()
	assert.True(t, errors.Is(err, rerrors.ErrInvalidConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	c := Default()
	c.Risk.Account = "desk-2"
	c.Risk.Breaker.Cooldown = 36 * time.Hour
	c.Risk.Sectors = map[string]string{"SOLUSDT": "L1"}

	path := filepath.Join(t.TempDir(), "configs", "risk.yaml")
	require.NoError(t, c.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cooldown_duration: 36h0m0s")

	loaded, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, c.Risk, loaded.Risk)
}

func TestLoggerOptions(t *testing.T) {
	c := Default()
	c.Risk.Account = "desk-3"
	c.Log.Level = "debug"
	opts := c.LoggerOptions()
	assert.Equal(t, "desk-3", opts.Account)
	assert.Equal(t, "debug", opts.Level)
	assert.Contains(t, c.Summary(), "desk-3")
}
