package main

import (
	"github.com/spf13/cobra"

	"github.com/numisdata/lotvalue/internal/store"
)

var (
	reextractAuction string
	reextractForce   bool
)

var reextractCmd = &cobra.Command{
	Use:   "reextract",
	Short: "Recompute stored lot attributes",
	Long:  "Re-runs attribute extraction for lots whose description changed since the last extraction, or for every lot with --force.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Service.Reextract(ctx, store.LotFilter{AuctionID: reextractAuction}, reextractForce)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), sum)
	},
}

func init() {
	reextractCmd.Flags().StringVar(&reextractAuction, "auction", "", "only lots of this auction")
	reextractCmd.Flags().BoolVar(&reextractForce, "force", false, "re-extract lots with current attributes too")
	rootCmd.AddCommand(reextractCmd)
}
