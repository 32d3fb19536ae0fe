package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var predictLotID int64

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict and store the price of one lot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if predictLotID <= 0 {
			return eris.New("--lot must be a positive lot id")
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pred, err := env.Service.PredictByID(ctx, predictLotID)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), pred)
	},
}

func init() {
	predictCmd.Flags().Int64Var(&predictLotID, "lot", 0, "lot id (required)")
	_ = predictCmd.MarkFlagRequired("lot")
	rootCmd.AddCommand(predictCmd)
}
