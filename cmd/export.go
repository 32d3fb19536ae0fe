package main

import (
	"github.com/spf13/cobra"

	"github.com/numisdata/lotvalue/internal/export"
	"github.com/numisdata/lotvalue/internal/store"
)

var (
	exportOut     string
	exportAuction string
	exportLimit   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export predictions as JSON Lines",
	Long:  "Writes stored predictions, one JSON object per line, to a local file, to stdout (--out -), or to s3://bucket/key.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dest, err := export.ParseDestination(exportOut)
		if err != nil {
			return err
		}
		mode := "store"
		if dest.IsS3() {
			mode = "export"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var uploader export.Uploader
		if dest.IsS3() {
			uploader, err = export.NewS3Uploader(ctx, export.S3Config{
				Region:         cfg.S3.Region,
				Endpoint:       cfg.S3.Endpoint,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return err
			}
		}

		_, err = export.New(st, uploader).Export(ctx, store.PredictionFilter{AuctionID: exportAuction, Limit: exportLimit}, dest)
		return err
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path, - for stdout, or s3://bucket/key (required)")
	exportCmd.Flags().StringVar(&exportAuction, "auction", "", "only predictions for lots of this auction")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max number of predictions (0 = all)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
