package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newConcentrationCmd(opts *rootOptions) *cobra.Command {
	var bookPath string

	cmd := &cobra.Command{
		Use:   "concentration",
		Short: "Analyze the concentration of a book",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			book, err := loadBook(bookPath)
			if err != nil {
				return err
			}
			report, err := a.engine.AnalyzeConcentration(book)
			if err != nil {
				return err
			}
			return a.render(report, func() { a.reporter.PrintConcentration(report) })
		}),
	}

	cmd.Flags().StringVar(&bookPath, "book", "", "YAML book file")
	cmd.MarkFlagRequired("book")
	return cmd
}
