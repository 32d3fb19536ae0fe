package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/numisdata/lotvalue/internal/cbr"
	"github.com/numisdata/lotvalue/internal/fetcher"
	"github.com/numisdata/lotvalue/internal/ingest"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

var metalsCmd = &cobra.Command{
	Use:   "metals",
	Short: "Load precious-metal prices",
}

var (
	metalsFrom string
	metalsTo   string
)

var metalsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch daily metals prices and the USD rate from the Central Bank of Russia",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("metals"); err != nil {
			return err
		}

		from, to, err := syncRange(metalsFrom, metalsTo, time.Now())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		client := cbr.New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   cfg.CBR.UserAgent,
			Timeout:     time.Duration(cfg.CBR.TimeoutSecs) * time.Second,
			Retry:       resilience.FromRetryConfig(3, 1000),
			RatePerHost: rate.Limit(cfg.CBR.RatePerSec),
		}), cfg.CBR.BaseURL)

		n, err := ingest.SyncMetals(ctx, client, st, from, to, cfg.CBR.ChunkDays)
		if err != nil {
			return err
		}
		zap.L().Info("metals sync complete",
			zap.String("from", from.Format(time.DateOnly)),
			zap.String("to", to.Format(time.DateOnly)),
			zap.Int64("rows", n),
		)
		return nil
	},
}

var metalsImportCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>",
	Short: "Import daily metals prices from a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open metals file")
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

		res, err := ingest.ImportMetalsFile(ctx, st, args[0], f)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

// syncRange resolves --from/--to. The default window is the 30 days up to
// today.
func syncRange(fromFlag, toFlag string, now time.Time) (time.Time, time.Time, error) {
	to := model.Day(now)
	if toFlag != "" {
		t, err := ingest.ParseDate(toFlag)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrap(err, "parse --to")
		}
		to = model.Day(t)
	}
	from := to.AddDate(0, 0, -30)
	if fromFlag != "" {
		f, err := ingest.ParseDate(fromFlag)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrap(err, "parse --from")
		}
		from = model.Day(f)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, eris.Errorf("--to %s is before --from %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return from, to, nil
}

func init() {
	metalsSyncCmd.Flags().StringVar(&metalsFrom, "from", "", "first date (YYYY-MM-DD, default 30 days before --to)")
	metalsSyncCmd.Flags().StringVar(&metalsTo, "to", "", "last date (YYYY-MM-DD, default today)")
	metalsCmd.AddCommand(metalsSyncCmd, metalsImportCmd)
	rootCmd.AddCommand(metalsCmd)
}
