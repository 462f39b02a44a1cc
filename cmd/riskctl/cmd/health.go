package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/internal/collateral"
)

type healthOutput struct {
	Report      collateral.HealthReport `json:"report"`
	Target      float64                 `json:"target,omitempty"`
	DropPercent *float64                `json:"drop_percent,omitempty"`
	RepayUSD    *float64                `json:"repay_usd,omitempty"`
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var pos collateral.Position
	var target float64

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Evaluate the health factor of a collateralized debt position",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			report, err := a.engine.EvaluateCollateral(pos)
			if err != nil {
				return err
			}

			out := healthOutput{Report: report}
			if target > 0 {
				out.Target = target
				if repay, err := collateral.RepayToReachHealthFactor(pos, target); err == nil {
					out.RepayUSD = &repay
				}
				if drop, err := collateral.CollateralDropToReachHealthFactor(pos, target); err == nil {
					out.DropPercent = &drop
				}
			}

			return a.render(out, func() {
				a.reporter.PrintHealth(report)
				if out.RepayUSD != nil {
					fmt.Fprintf(a.out, "🎯 Repay $%.2f to reach health factor %.2f\n", *out.RepayUSD, target)
				}
				if out.DropPercent != nil {
					fmt.Fprintf(a.out, "📉 A %.2f%% collateral drop brings it to %.2f\n", *out.DropPercent, target)
				}
			})
		}),
	}

	f := cmd.Flags()
	f.Float64Var(&pos.CollateralValueUSD, "collateral", 0, "collateral value in USD")
	f.Float64Var(&pos.DebtValueUSD, "debt", 0, "debt value in USD")
	f.Float64Var(&pos.LiquidationThreshold, "threshold", 0, "liquidation threshold in (0, 1]")
	f.Float64Var(&pos.CollateralUnits, "units", 0, "collateral units, for a per-unit liquidation price")
	f.Float64Var(&target, "target", 0, "target health factor for repay and drop figures")
	cmd.MarkFlagRequired("collateral")
	cmd.MarkFlagRequired("threshold")
	return cmd
}
