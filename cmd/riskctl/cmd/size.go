package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
)

// requestFlags binds a sizing.Request to command flags
type requestFlags struct {
	req      sizing.Request
	winRate  float64
	avgWin   float64
	avgLoss  float64
	bookPath string
}

func (r *requestFlags) register(f *pflag.FlagSet) {
	f.Float64Var(&r.req.EquityUSD, "equity", 0, "account equity in USD")
	f.StringVar(&r.req.Symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	f.StringVar(&r.req.Sector, "sector", "", "sector of the symbol (defaults to the configured table)")
	f.Float64Var(&r.req.StopDistanceUSD, "stop", 0, "stop distance in USD per unit")
	f.Float64Var(&r.req.Volatility, "volatility", 0, "volatility in USD per unit, e.g. ATR")
	f.Float64Var(&r.req.EntryPrice, "entry", 0, "entry price, enables the margin check")
	f.Float64Var(&r.req.Leverage, "leverage", 0, "leverage for the margin check")
	f.Float64Var(&r.winRate, "win-rate", 0, "historical win rate in [0,1], enables Kelly sizing")
	f.Float64Var(&r.avgWin, "avg-win", 0, "average winning trade in USD")
	f.Float64Var(&r.avgLoss, "avg-loss", 0, "average losing trade in USD, as a positive number")
	f.StringVar(&r.bookPath, "book", "", "YAML book including the candidate, enables the concentration check")
}

// build resolves the request, analyzing the book when one is given
func (r *requestFlags) build(a *app, edgeSet bool) (sizing.Request, error) {
	req := r.req
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Sector == "" {
		req.Sector = a.cfg.Risk.Sectors[req.Symbol]
	}
	if edgeSet {
		req.Edge = &sizing.EdgeStats{WinRate: r.winRate, AvgWin: r.avgWin, AvgLoss: r.avgLoss}
	}
	if r.bookPath != "" {
		book, err := loadBook(r.bookPath)
		if err != nil {
			return req, err
		}
		report, err := a.engine.AnalyzeConcentration(book)
		if err != nil {
			return req, fmt.Errorf("failed to analyze book: %w", err)
		}
		req.Concentration = &report
	}
	return req, nil
}

func markRequestFlagsRequired(cmd *cobra.Command) {
	cmd.MarkFlagRequired("equity")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("stop")
}

func newSizeCmd(opts *rootOptions) *cobra.Command {
	rf := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "size",
		Short: "Size a candidate trade without recording it",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withApp(opts, func(ctx context.Context, a *app, _ []string) error {
		req, err := rf.build(a, cmd.Flags().Changed("win-rate"))
		if err != nil {
			return err
		}
		result, err := a.engine.Size(ctx, req)
		if err != nil {
			return err
		}
		return a.render(result, func() { a.reporter.PrintSizing(result) })
	})

	rf.register(cmd.Flags())
	markRequestFlagsRequired(cmd)
	return cmd
}

func newOpenCmd(opts *rootOptions) *cobra.Command {
	rf := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Size a trade and record its risk when approved",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withApp(opts, func(ctx context.Context, a *app, _ []string) error {
		req, err := rf.build(a, cmd.Flags().Changed("win-rate"))
		if err != nil {
			return err
		}
		decision, err := a.engine.Open(ctx, req)
		if err != nil {
			return err
		}
		return a.render(decision, func() {
			a.reporter.PrintSizing(decision.Result)
			if decision.Position != nil {
				fmt.Fprintf(a.out, "📌 Opened position %s\n", decision.Position.ID)
			}
		})
	})

	rf.register(cmd.Flags())
	markRequestFlagsRequired(cmd)
	return cmd
}
