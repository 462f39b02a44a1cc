package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

type outcomeOutput struct {
	Outcome types.TradeOutcome  `json:"outcome"`
	Breaker safety.BreakerState `json:"breaker"`
}

func printBreaker(a *app, s safety.BreakerState) {
	switch s.State {
	case safety.StateHalted:
		fmt.Fprintf(a.out, "🛑 Trading HALTED after %d consecutive losses until %s\n",
			s.ConsecutiveLosses, s.HaltedUntil.UTC().Format(time.RFC3339))
	case safety.StateReduced:
		fmt.Fprintf(a.out, "⚠️  Risk REDUCED to x%.2f after %d consecutive losses\n",
			s.RiskReductionFactor, s.ConsecutiveLosses)
	default:
		fmt.Fprintln(a.out, "✅ Circuit breaker ACTIVE")
	}
}

func newCloseCmd(opts *rootOptions) *cobra.Command {
	var pnl float64

	cmd := &cobra.Command{
		Use:   "close <position-id>",
		Short: "Close an open position with its realized PnL",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			outcome, err := a.engine.Close(ctx, args[0], pnl)
			if err != nil {
				return err
			}
			breaker := a.engine.Breaker()
			return a.render(outcomeOutput{Outcome: outcome, Breaker: breaker}, func() {
				fmt.Fprintf(a.out, "📕 Closed %s %s with PnL $%.2f\n", outcome.Symbol, outcome.PositionID, outcome.PnLUSD)
				printBreaker(a, breaker)
			})
		}),
	}

	cmd.Flags().Float64Var(&pnl, "pnl", 0, "realized PnL in USD")
	cmd.MarkFlagRequired("pnl")
	return cmd
}

func newOutcomeCmd(opts *rootOptions) *cobra.Command {
	var (
		pnl float64
		at  string
	)

	cmd := &cobra.Command{
		Use:   "outcome <symbol>",
		Short: "Record a closed trade that was not opened through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, args []string) error {
			outcome := types.TradeOutcome{
				Symbol: strings.ToUpper(strings.TrimSpace(args[0])),
				PnLUSD: pnl,
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
				outcome.Timestamp = ts
			}

			breaker, err := a.engine.RecordOutcome(ctx, outcome)
			if err != nil {
				return err
			}
			if outcome.Timestamp.IsZero() {
				outcome.Timestamp = breaker.LastOutcomeAt
			}
			return a.render(outcomeOutput{Outcome: outcome, Breaker: breaker}, func() {
				fmt.Fprintf(a.out, "🧾 Recorded %s PnL $%.2f\n", outcome.Symbol, outcome.PnLUSD)
				printBreaker(a, breaker)
			})
		}),
	}

	cmd.Flags().Float64Var(&pnl, "pnl", 0, "realized PnL in USD")
	cmd.Flags().StringVar(&at, "at", "", "outcome time in RFC3339 (defaults to now)")
	cmd.MarkFlagRequired("pnl")
	return cmd
}

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			positions := a.engine.Positions()
			return a.render(positions, func() { a.reporter.PrintPositions(positions) })
		}),
	}
}
