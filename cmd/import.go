package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import auction data",
}

var importSalesCmd = &cobra.Command{
	Use:   "sales <file.csv>",
	Short: "Import historical auction results from CSV",
	Long:  "Loads lots with their winning bids and sale dates, extracting attributes from each description. Rows are upserted by auction and lot number.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open sales csv")
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := ingest.NewSalesImporter(st, extract.New(), cfg.Import.ChunkSize).ImportCSV(ctx, f)
		if err != nil {
			return eris.Wrap(err, "import sales")
		}

		zap.L().Info("import complete",
			zap.Int("rows", res.Rows),
			zap.Int64("imported", res.Imported),
			zap.Int("rejected", res.Rejected),
			zap.String("csv", args[0]),
		)
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	importCmd.AddCommand(importSalesCmd)
	rootCmd.AddCommand(importCmd)
}
