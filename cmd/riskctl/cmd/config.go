package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/cmd/common"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if save != "" {
				if err := cfg.Save(save); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "💾 Configuration saved to %s\n", save)
				return nil
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "write the configuration to this file instead of printing it")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			common.PrintVersion(cmd.OutOrStdout(), "riskctl")
		},
	}
}
