package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// accountStatus resolves the status, with concentration when a book path is given
func accountStatus(ctx context.Context, a *app, equity float64, bookPath string) (risk.Status, error) {
	var book map[string]types.AssetExposure
	if bookPath != "" {
		b, err := loadBook(bookPath)
		if err != nil {
			return risk.Status{}, err
		}
		book = b
	}
	return a.engine.StatusWithBook(ctx, equity, book)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		equity   float64
		bookPath string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show breaker, heat, daily loss and the overall risk score",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			status, err := accountStatus(ctx, a, equity, bookPath)
			if err != nil {
				return err
			}
			return a.render(status, func() { a.reporter.PrintStatus(status) })
		}),
	}

	cmd.Flags().Float64Var(&equity, "equity", 0, "account equity in USD")
	cmd.Flags().StringVar(&bookPath, "book", "", "YAML book to include concentration in the score")
	cmd.MarkFlagRequired("equity")
	return cmd
}
