package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/monitoring"
	"github.com/numisdata/lotvalue/internal/store"
)

var (
	batchAuction     string
	batchLimit       int
	batchConcurrency int
	batchRetryDLQ    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Recompute predictions for many lots",
	Long:  "Predicts every lot of an auction (or all lots) with a bounded worker pool. Lots that fail unexpectedly are written to the dead letter queue; --retry-dlq reprocesses due entries instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var summary model.BatchSummary
		if batchRetryDLQ {
			summary, err = env.Service.RetryDLQ(ctx, batchLimit)
		} else {
			summary, err = env.Service.Run(ctx, store.LotFilter{AuctionID: batchAuction, Limit: batchLimit})
		}
		if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
			return werr
		}
		if err != nil {
			return err
		}

		snap, cerr := monitoring.NewCollector(env.Store, env.Service.Breakers()).Collect(ctx, summary)
		if cerr != nil {
			zap.L().Warn("batch: collect run snapshot", zap.Error(cerr))
		} else {
			if snap.DLQDepth > 0 {
				zap.L().Info("dead letter queue has entries", zap.Int("pending", snap.DLQDepth))
			}
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			if alerts := alerter.Evaluate(snap); len(alerts) > 0 {
				alerter.SendAlerts(ctx, alerts)
			}
		}
		if summary.Failed > 0 {
			return eris.Errorf("%d of %d lots failed", summary.Failed, summary.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchAuction, "auction", "", "only lots of this auction")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of lots (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "worker count (default from config)")
	batchCmd.Flags().BoolVar(&batchRetryDLQ, "retry-dlq", false, "retry due dead letter queue entries")
	rootCmd.AddCommand(batchCmd)
}
