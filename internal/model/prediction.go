package model

import "time"

// PredictionMethod tags how a predicted price was derived.
type PredictionMethod string

const (
	MethodComparableSales PredictionMethod = "comparable_sales"
	MethodMetalValue      PredictionMethod = "metal_value"
	MethodBlended         PredictionMethod = "blended"
)

// PricePrediction is the current price estimate for a lot. There is at most
// one per lot; recomputation replaces the previous record.
type PricePrediction struct {
	LotID             int64            `json:"lot_id"`
	PredictedPrice    float64          `json:"predicted_price"`
	Confidence        float64          `json:"confidence"` // 0-100
	Method            PredictionMethod `json:"method"`
	SampleSize        int              `json:"sample_size"`
	MatchLevel        string           `json:"match_level,omitempty"`
	MetalValue        *float64         `json:"metal_value,omitempty"`
	NumismaticPremium *float64         `json:"numismatic_premium,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// BatchSummary counts per-lot outcomes of a batch run.
type BatchSummary struct {
	RunID     string `json:"run_id"`
	Total     int64  `json:"total"`
	Succeeded int64  `json:"succeeded"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}

// PredictionOutcome pairs a stored prediction with the realised winning bid.
type PredictionOutcome struct {
	LotID          int64            `json:"lot_id"`
	AuctionID      string           `json:"auction_id"`
	LotNumber      string           `json:"lot_number"`
	PredictedPrice float64          `json:"predicted_price"`
	Confidence     float64          `json:"confidence"`
	Method         PredictionMethod `json:"method"`
	WinningBid     float64          `json:"winning_bid"`
}

// Accuracy is 100 minus the absolute percentage error, floored at 0.
func (o PredictionOutcome) Accuracy() float64 {
	if o.WinningBid <= 0 {
		return 0
	}
	diff := o.PredictedPrice - o.WinningBid
	if diff < 0 {
		diff = -diff
	}
	acc := 100 - diff/o.WinningBid*100
	if acc < 0 {
		return 0
	}
	return acc
}
