package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/internal/config"
	"github.com/ducminhle1904/crypto-risk-engine/internal/logger"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/storage"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configFile string
	envFile    string
	store      string
	storePath  string
	dsn        string
	account    string
	logLevel   string
	jsonOutput bool
}

// NewRootCommand builds the riskctl command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Pre-trade risk gating for crypto trading accounts",
		Long: `riskctl runs the risk engine against a persistent ledger.

It provides tools for:
  - Collateral health factors and liquidation prices
  - Book concentration (HHI, sector and correlated pair limits)
  - Position sizing under the heat caps and the circuit breaker
  - Recording opens, closes and trade outcomes
  - Exporting the ledger and serving Prometheus metrics

Examples:
  riskctl health --collateral 10000 --debt 4000 --threshold 0.825
  riskctl size --equity 10000 --symbol BTCUSDT --stop 50
  riskctl open --equity 10000 --symbol BTCUSDT --sector L1 --stop 50
  riskctl close 01J... --pnl -120
  riskctl status --equity 10000`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML policy file")
	pf.StringVar(&opts.envFile, "env", ".env", "environment file")
	pf.StringVar(&opts.store, "store", "", "ledger store: memory, file, sqlite or postgres")
	pf.StringVar(&opts.storePath, "store-path", "", "ledger path for the file and sqlite stores")
	pf.StringVar(&opts.dsn, "dsn", "", "postgres connection string")
	pf.StringVar(&opts.account, "account", "", "account name")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newHealthCmd(opts),
		newConcentrationCmd(opts),
		newSizeCmd(opts),
		newOpenCmd(opts),
		newCloseCmd(opts),
		newOutcomeCmd(opts),
		newPositionsCmd(opts),
		newStatusCmd(opts),
		newExportCmd(opts),
		newServeMetricsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return err
	}
	return nil
}

// loadConfig reads the configuration and applies flag overrides
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.store != "" {
		cfg.Store.Kind = storage.Kind(o.store)
	}
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.dsn != "" {
		cfg.Store.DSN = o.dsn
	}
	if o.account != "" {
		cfg.Risk.Account = o.account
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is an engine session for one command invocation
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    storage.Store
	engine   *risk.Engine
	metrics  *monitoring.Metrics
	health   *monitoring.HealthChecker
	out      io.Writer
	json     bool
	reporter *reporting.DefaultConsoleReporter
}

func (o *rootOptions) openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logOpts := cfg.LoggerOptions()
	logOpts.Output = cmd.ErrOrStderr()
	log, err := logger.NewLogger(logOpts)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.StoreOptions())
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Kind, err)
	}

	metrics := monitoring.NewMetrics()
	health := monitoring.NewHealthChecker()
	engine, err := risk.New(ctx, store,
		risk.WithConfig(cfg.Risk),
		risk.WithLogger(log),
		risk.WithMetrics(metrics),
		risk.WithHealthChecker(health),
	)
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}

	out := cmd.OutOrStdout()
	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		engine:   engine,
		metrics:  metrics,
		health:   health,
		out:      out,
		json:     o.jsonOutput,
		reporter: reporting.NewDefaultConsoleReporter(out),
	}, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	a.log.Close()
	return err
}

// render prints v as JSON when --json is set, otherwise calls table
func (a *app) render(v interface{}, table func()) error {
	if a.json {
		return reporting.PrintJSON(a.out, v)
	}
	table()
	return nil
}

// withApp opens an engine session around fn
func withApp(opts *rootOptions, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := opts.openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}
