// Package predict combines comparable sales and metal value into a price
// prediction with a confidence score.
package predict

import (
	"math"
	"time"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/model"
)

// Config tunes the predictor.
type Config struct {
	// MinSamples is the number of comparables needed for a sales-backed price.
	MinSamples int
	// TargetSamples is the sample size at which comparables fully outweigh
	// metal value in a blended prediction.
	TargetSamples int
	Premiums      PremiumTable
}

// Default thresholds.
const (
	DefaultMinSamples    = comparable.DefaultMinSamples
	DefaultTargetSamples = 10
)

// Input is everything the predictor needs for one lot.
type Input struct {
	LotID       int64
	Metal       model.Metal
	Comparables *comparable.Result
	// MetalValue is nil when it could not be computed.
	MetalValue *float64
}

// Predictor is stateless apart from its configuration and clock.
type Predictor struct {
	cfg Config
	now func() time.Time
}

// New returns a Predictor, filling unset Config fields with defaults.
func New(cfg Config) *Predictor {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.TargetSamples < cfg.MinSamples {
		cfg.TargetSamples = max(DefaultTargetSamples, cfg.MinSamples)
	}
	if cfg.Premiums.Default <= 0 {
		cfg.Premiums.Default = DefaultPremium
	}
	return &Predictor{cfg: cfg, now: time.Now}
}

// Predict picks a method from the available evidence:
//
//   - enough comparables, no metal value: median of comparables
//   - metal value, not enough comparables: metal value × premium
//   - both: blend weighted by sample size toward TargetSamples
//   - neither: *InsufficientDataError
//
// Prices and confidences are rounded to two decimals, so recomputation over
// unchanged inputs yields identical values.
func (p *Predictor) Predict(in Input) (*model.PricePrediction, error) {
	comps := in.Comparables
	haveComps := comps != nil && comps.Stats.Count >= p.cfg.MinSamples
	haveMetal := in.MetalValue != nil && *in.MetalValue > 0

	pred := &model.PricePrediction{LotID: in.LotID, CreatedAt: p.now().UTC()}

	var metalPrice, metalConf float64
	if haveMetal {
		metalPrice = *in.MetalValue * p.cfg.Premiums.For(in.Metal)
		metalConf = MetalOnlyConfidence
		pred.MetalValue = model.Float(round2(*in.MetalValue))
	}

	switch {
	case haveComps && !haveMetal:
		pred.Method = model.MethodComparableSales
		pred.PredictedPrice = comps.Stats.Median
		pred.Confidence = ComparableConfidence(comps.Level, comps.Stats.Count)
	case haveComps && haveMetal:
		w := math.Min(float64(comps.Stats.Count)/float64(p.cfg.TargetSamples), 1)
		compConf := ComparableConfidence(comps.Level, comps.Stats.Count)
		pred.Method = model.MethodBlended
		pred.PredictedPrice = w*comps.Stats.Median + (1-w)*metalPrice
		pred.Confidence = metalConf + w*(compConf-metalConf)
	case haveMetal:
		pred.Method = model.MethodMetalValue
		pred.PredictedPrice = metalPrice
		pred.Confidence = metalConf
	default:
		reason := "no comparable sales and no metal value"
		if comps != nil && comps.Stats.Count > 0 {
			reason = "too few comparable sales and no metal value"
		}
		return nil, &InsufficientDataError{LotID: in.LotID, Reason: reason}
	}

	if haveComps {
		pred.SampleSize = comps.Stats.Count
		pred.MatchLevel = comps.Level.String()
	}
	pred.PredictedPrice = round2(pred.PredictedPrice)
	pred.Confidence = round2(pred.Confidence)
	if pred.MetalValue != nil {
		pred.NumismaticPremium = model.Float(round2(pred.PredictedPrice - *pred.MetalValue))
	}
	return pred, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
