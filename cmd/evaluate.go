package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/pipeline"
)

var (
	evaluateAuction string
	evaluateJSON    bool
	evaluateDetails bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Backtest stored predictions against winning bids",
	Long:  "Compares each prediction for a sold lot with its winning bid. Accuracy is 100 minus the absolute percentage error, floored at 0.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ev, err := pipeline.Evaluate(ctx, st, evaluateAuction)
		if err != nil {
			return err
		}
		if !evaluateDetails {
			ev.Outcomes = nil
		}
		if evaluateJSON {
			return writeJSON(cmd.OutOrStdout(), ev)
		}
		formatEvaluation(cmd.OutOrStdout(), ev)
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateAuction, "auction", "", "auction to evaluate (default all)")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "print JSON instead of a table")
	evaluateCmd.Flags().BoolVar(&evaluateDetails, "details", false, "include per-lot outcomes")
	rootCmd.AddCommand(evaluateCmd)
}

// formatEvaluation writes accuracy per method, then overall, and the
// per-lot outcomes when present.
func formatEvaluation(out io.Writer, ev *pipeline.Evaluation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METHOD\tLOTS\tMEAN\tMEDIAN\tWITHIN 10%\tWITHIN 25%")
	_, _ = fmt.Fprintln(w, "------\t----\t----\t------\t----------\t----------")

	methods := make([]string, 0, len(ev.ByMethod))
	for m := range ev.ByMethod {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		writeAccuracyRow(w, m, ev.ByMethod[model.PredictionMethod(m)])
	}
	writeAccuracyRow(w, "all", ev.Overall)
	_ = w.Flush()

	if len(ev.Outcomes) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LOT\tAUCTION\tNUMBER\tMETHOD\tPREDICTED\tACTUAL\tACCURACY")
	for _, o := range ev.Outcomes {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%.2f\t%.1f%%\n",
			o.LotID, o.AuctionID, o.LotNumber, o.Method, o.PredictedPrice, o.WinningBid, o.Accuracy())
	}
	_ = w.Flush()
}

func writeAccuracyRow(w io.Writer, label string, s pipeline.AccuracyStats) {
	_, _ = fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%d\t%d\n",
		label, s.Count, s.MeanAccuracy, s.MedianAccuracy, s.Within10, s.Within25)
}
