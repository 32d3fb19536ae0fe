package extract

import (
	"math"

	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
)

// WeightTolerance is the largest allowed gap, in grams, between a stated
// pure metal weight and coin weight × fineness.
const WeightTolerance = 0.01

// reconcileWeights fills derivable weight fields and removes contradictions.
// Any one of coin weight, fineness and pure weight is derived from the other
// two; a stated pure weight that disagrees with the product is replaced.
// Troy ounces convert to and from pure grams. A lone weight or a lone
// fineness stays alone.
func reconcileWeights(a *model.LotAttributes) {
	if a.PureMetalWeight == nil && a.WeightOz != nil {
		a.PureMetalWeight = model.Float(round(*a.WeightOz*model.TroyOunceGrams, 3))
	}

	switch {
	case a.CoinWeight != nil && a.Fineness != nil:
		derived := round(*a.CoinWeight**a.Fineness, 3)
		if a.PureMetalWeight != nil && math.Abs(*a.PureMetalWeight-derived) > WeightTolerance {
			zap.L().Debug("extract: stated pure weight contradicts coin weight and fineness",
				zap.Float64("stated", *a.PureMetalWeight),
				zap.Float64("derived", derived),
			)
			a.PureMetalWeight = nil
			a.WeightOz = nil
		}
		if a.PureMetalWeight == nil {
			a.PureMetalWeight = model.Float(derived)
		}
	case a.PureMetalWeight != nil && a.Fineness != nil:
		a.CoinWeight = model.Float(round(*a.PureMetalWeight / *a.Fineness, 3))
	case a.PureMetalWeight != nil && a.CoinWeight != nil:
		if f := *a.PureMetalWeight / *a.CoinWeight; f > 0 && f <= 1 {
			a.Fineness = model.Float(round(f, 6))
		}
	}

	if a.WeightOz == nil && a.PureMetalWeight != nil {
		a.WeightOz = model.Float(round(*a.PureMetalWeight/model.TroyOunceGrams, 4))
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
