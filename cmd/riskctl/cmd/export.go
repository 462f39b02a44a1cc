package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		out    string
		equity float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger to .xlsx, .csv (outcomes) or .json",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			outcomes, err := a.store.LoadOutcomes(ctx)
			if err != nil {
				return err
			}
			ledger := reporting.Ledger{
				Account:   a.cfg.Risk.Account,
				Positions: a.engine.Positions(),
				Outcomes:  outcomes,
			}
			if equity > 0 {
				status, err := a.engine.Status(ctx, equity)
				if err != nil {
					return err
				}
				ledger.Status = &status
			}

			path := out
			if path == "" {
				path = reporting.DefaultExportPath(ledger.Account, "ledger", "xlsx")
			}

			switch strings.ToLower(filepath.Ext(path)) {
			case ".xlsx":
				err = reporting.WriteLedgerXLSX(ledger, path)
			case ".csv":
				err = reporting.WriteOutcomesCSV(ledger.Outcomes, path)
			case ".json":
				err = reporting.WriteJSON(struct {
					reporting.Ledger
					Stats reporting.OutcomeStats `json:"stats"`
				}{ledger, reporting.SummarizeOutcomes(outcomes)}, path)
			default:
				return fmt.Errorf("unsupported export format %q (use .xlsx, .csv or .json)", filepath.Ext(path))
			}
			if err != nil {
				return fmt.Errorf("failed to export ledger: %w", err)
			}

			a.log.Info("Exported %d positions and %d outcomes to %s", len(ledger.Positions), len(outcomes), path)
			fmt.Fprintf(a.out, "💾 Ledger exported to %s\n", path)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default exports/<account>/ledger_<time>.xlsx)")
	cmd.Flags().Float64Var(&equity, "equity", 0, "account equity, adds a status block to the export")
	return cmd
}
