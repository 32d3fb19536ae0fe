// Package metalvalue computes the intrinsic metal value of a coin from its
// extracted weight and fineness and the metals price on a valuation date.
package metalvalue

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
)

// PriceSource returns the metals observation for date, or the most recent
// one before it. It returns nil, nil when there is none.
type PriceSource interface {
	PriceAt(ctx context.Context, date time.Time) (*model.MetalsPriceObservation, error)
}

// Calculator values coins against a PriceSource.
type Calculator struct {
	prices PriceSource
}

// NewCalculator returns a Calculator reading prices from src.
func NewCalculator(src PriceSource) *Calculator {
	return &Calculator{prices: src}
}

// PureGrams resolves the pure metal weight in grams: the stated pure weight,
// else coin weight × fineness, else the stated troy ounces. It returns nil
// when none of these are available.
func PureGrams(a *model.LotAttributes) *float64 {
	if a == nil {
		return nil
	}
	switch {
	case a.PureMetalWeight != nil && *a.PureMetalWeight > 0:
		return model.Float(*a.PureMetalWeight)
	case a.CoinWeight != nil && a.Fineness != nil && *a.CoinWeight > 0 && *a.Fineness > 0:
		return model.Float(*a.CoinWeight * *a.Fineness)
	case a.WeightOz != nil && *a.WeightOz > 0:
		return model.Float(*a.WeightOz * model.TroyOunceGrams)
	}
	return nil
}

// Value returns the metal value of a on date rounded to kopecks. It returns
// nil, never zero, when the metal is not priced, the weight cannot be
// resolved, or no observation exists on or before date. Lookup errors,
// including *resilience.DataSourceTimeoutError, are returned unchanged in
// the chain so callers can tell a timeout from missing data.
func (c *Calculator) Value(ctx context.Context, a *model.LotAttributes, date time.Time) (*float64, error) {
	if a == nil || !a.Metal.Precious() {
		return nil, nil
	}
	grams := PureGrams(a)
	if grams == nil {
		return nil, nil
	}

	day := model.Day(date)
	obs, err := c.prices.PriceAt(ctx, day)
	if err != nil {
		return nil, eris.Wrapf(err, "metalvalue: price lookup for %s", day.Format(time.DateOnly))
	}
	if obs == nil {
		return nil, nil
	}
	if model.Day(obs.Date).After(day) {
		zap.L().Warn("metalvalue: ignoring observation after valuation date",
			zap.Time("valuation_date", day),
			zap.Time("observation_date", obs.Date),
		)
		return nil, nil
	}

	perGram := obs.PricePerGram(a.Metal)
	if perGram == nil || *perGram <= 0 {
		return nil, nil
	}
	v := math.Round(*grams**perGram*100) / 100
	if v <= 0 {
		return nil, nil
	}
	return &v, nil
}
