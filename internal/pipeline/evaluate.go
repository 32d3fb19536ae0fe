package pipeline

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/numisdata/lotvalue/internal/model"
)

// OutcomeSource lists predictions for sold lots with their winning bids.
type OutcomeSource interface {
	ListOutcomes(ctx context.Context, auctionID string) ([]model.PredictionOutcome, error)
}

// AccuracyStats aggregates per-lot accuracy percentages.
type AccuracyStats struct {
	Count          int     `json:"count"`
	MeanAccuracy   float64 `json:"mean_accuracy"`
	MedianAccuracy float64 `json:"median_accuracy"`
	// Within10 and Within25 count predictions within 10% and 25% of the
	// winning bid.
	Within10 int `json:"within_10"`
	Within25 int `json:"within_25"`
}

// Evaluation is a backtest of stored predictions against realised prices.
type Evaluation struct {
	AuctionID string                                   `json:"auction_id,omitempty"`
	Overall   AccuracyStats                            `json:"overall"`
	ByMethod  map[model.PredictionMethod]AccuracyStats `json:"by_method"`
	Outcomes  []model.PredictionOutcome                `json:"outcomes,omitempty"`
}

// Evaluate compares predictions with winning bids for an auction, or for
// all auctions when auctionID is empty.
func Evaluate(ctx context.Context, src OutcomeSource, auctionID string) (*Evaluation, error) {
	outcomes, err := src.ListOutcomes(ctx, auctionID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list outcomes")
	}

	byMethod := make(map[model.PredictionMethod][]float64)
	all := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		acc := o.Accuracy()
		all = append(all, acc)
		byMethod[o.Method] = append(byMethod[o.Method], acc)
	}

	ev := &Evaluation{
		AuctionID: auctionID,
		Overall:   accuracyStats(all),
		ByMethod:  make(map[model.PredictionMethod]AccuracyStats, len(byMethod)),
		Outcomes:  outcomes,
	}
	for m, accs := range byMethod {
		ev.ByMethod[m] = accuracyStats(accs)
	}
	return ev, nil
}

func accuracyStats(accs []float64) AccuracyStats {
	st := AccuracyStats{Count: len(accs)}
	if len(accs) == 0 {
		return st
	}
	sorted := append([]float64(nil), accs...)
	sort.Float64s(sorted)

	var sum float64
	for _, a := range sorted {
		sum += a
		if a >= 90 {
			st.Within10++
		}
		if a >= 75 {
			st.Within25++
		}
	}
	st.MeanAccuracy = round2(sum / float64(len(sorted)))
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		st.MedianAccuracy = round2((sorted[mid-1] + sorted[mid]) / 2)
	} else {
		st.MedianAccuracy = round2(sorted[mid])
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
