package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisdata/lotvalue/internal/model"
)

func TestReconcileWeights(t *testing.T) {
	tests := []struct {
		name     string
		in       model.LotAttributes
		coin     *float64
		fineness *float64
		pure     *float64
	}{
		{
			name:     "coin and fineness",
			in:       model.LotAttributes{CoinWeight: model.Float(7.74), Fineness: model.Float(0.9)},
			coin:     model.Float(7.74),
			fineness: model.Float(0.9),
			pure:     model.Float(6.966),
		},
		{
			name:     "pure and fineness",
			in:       model.LotAttributes{PureMetalWeight: model.Float(18), Fineness: model.Float(0.9)},
			coin:     model.Float(20),
			fineness: model.Float(0.9),
			pure:     model.Float(18),
		},
		{
			name:     "pure and coin",
			in:       model.LotAttributes{PureMetalWeight: model.Float(18), CoinWeight: model.Float(20)},
			coin:     model.Float(20),
			fineness: model.Float(0.9),
			pure:     model.Float(18),
		},
		{
			name:     "within tolerance is kept",
			in:       model.LotAttributes{CoinWeight: model.Float(20), Fineness: model.Float(0.9), PureMetalWeight: model.Float(18.005)},
			coin:     model.Float(20),
			fineness: model.Float(0.9),
			pure:     model.Float(18.005),
		},
		{
			name: "lone coin weight",
			in:   model.LotAttributes{CoinWeight: model.Float(12)},
			coin: model.Float(12),
		},
		{
			name:     "lone fineness",
			in:       model.LotAttributes{Fineness: model.Float(0.5)},
			fineness: model.Float(0.5),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.in
			reconcileWeights(&a)
			assertWeight(t, tt.coin, a.CoinWeight)
			assertWeight(t, tt.fineness, a.Fineness)
			assertWeight(t, tt.pure, a.PureMetalWeight)
		})
	}
}

func TestReconcileWeights_PureHeavierThanCoinKeepsFinenessEmpty(t *testing.T) {
	a := model.LotAttributes{PureMetalWeight: model.Float(25), CoinWeight: model.Float(20)}
	reconcileWeights(&a)
	assert.Nil(t, a.Fineness)
}

func TestReconcileWeights_Ounces(t *testing.T) {
	a := model.LotAttributes{WeightOz: model.Float(0.5)}
	reconcileWeights(&a)
	require.NotNil(t, a.PureMetalWeight)
	assert.InDelta(t, 15.552, *a.PureMetalWeight, 1e-9)
	assert.InDelta(t, 0.5, *a.WeightOz, 1e-9)

	a = model.LotAttributes{PureMetalWeight: model.Float(31.1034768)}
	reconcileWeights(&a)
	require.NotNil(t, a.WeightOz)
	assert.InDelta(t, 1.0, *a.WeightOz, 1e-9)
}

func assertWeight(t *testing.T, want, got *float64) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.InDelta(t, *want, *got, 1e-9)
}
