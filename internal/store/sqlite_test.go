package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func soldLot(auction, number string, bid float64, date string, attrs *model.LotAttributes) model.Lot {
	return model.Lot{
		AuctionID:   auction,
		LotNumber:   number,
		Description: "lot " + number,
		WinningBid:  model.Float(bid),
		SaleDate:    day(date),
		Attributes:  attrs,
	}
}

func rouble1897(letters, condition string) *model.LotAttributes {
	return &model.LotAttributes{
		Denomination: "15",
		Metal:        model.MetalGold,
		Year:         model.Int(1897),
		Letters:      letters,
		Condition:    condition,
	}
}

// seedLots inserts lots and returns them with ids, in insertion order.
func seedLots(t *testing.T, st *SQLiteStore, lots ...model.Lot) []model.Lot {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertLots(ctx, lots)
	require.NoError(t, err)
	out, err := st.ListLots(ctx, LotFilter{})
	require.NoError(t, err)
	require.Len(t, out, len(lots))
	return out
}

// --- Lots ---

func TestSQLite_UpsertLots_GetLot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	attrs := rouble1897("АГ", "MS61")
	attrs.CoinWeight = model.Float(12.9)
	lot := soldLot("a1", "101", 1000, "2024-03-01", attrs)
	lot.AttributesHash = model.DescriptionHash(lot.Description)
	lots := seedLots(t, st, lot)

	got, err := st.GetLot(ctx, lots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AuctionID)
	assert.Equal(t, "101", got.LotNumber)
	require.NotNil(t, got.WinningBid)
	assert.InDelta(t, 1000, *got.WinningBid, 0.001)
	assert.Equal(t, day("2024-03-01"), got.SaleDate)
	require.NotNil(t, got.Attributes)
	assert.Equal(t, "MS61", got.Attributes.Condition)
	assert.InDelta(t, 12.9, *got.Attributes.CoinWeight, 0.0001)
	assert.False(t, got.StaleAttributes())
}

func TestSQLite_UpsertLots_ReplacesByKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedLots(t, st, soldLot("a1", "101", 1000, "2024-03-01", nil))
	updated := soldLot("a1", "101", 1500, "2024-03-01", nil)
	updated.Description = "corrected"
	_, err := st.UpsertLots(ctx, []model.Lot{updated})
	require.NoError(t, err)

	lots, err := st.ListLots(ctx, LotFilter{})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "corrected", lots[0].Description)
	assert.InDelta(t, 1500, *lots[0].WinningBid, 0.001)
	assert.True(t, lots[0].StaleAttributes())
}

func TestSQLite_GetLot_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetLot(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListLots_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lots := seedLots(t, st,
		soldLot("a1", "1", 10, "2024-01-01", nil),
		soldLot("a1", "2", 20, "2024-01-01", nil),
		soldLot("a2", "1", 30, "2024-02-01", nil),
	)

	got, err := st.ListLots(ctx, LotFilter{AuctionID: "a1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.ListLots(ctx, LotFilter{AfterID: lots[0].ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lots[1].ID, got[0].ID)

	got, err = st.ListLots(ctx, LotFilter{IDs: []int64{lots[0].ID, lots[2].ID}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[1].AuctionID)
}

func TestSQLite_UpdateLotAttributes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lots := seedLots(t, st, soldLot("a1", "1", 10, "2024-01-01", nil))
	id := lots[0].ID

	hash := model.DescriptionHash(lots[0].Description)
	require.NoError(t, st.UpdateLotAttributes(ctx, id, rouble1897("АГ", "XF"), hash))

	got, err := st.GetLot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Attributes)
	assert.Equal(t, "XF", got.Attributes.Condition)
	assert.Equal(t, hash, got.AttributesHash)

	err = st.UpdateLotAttributes(ctx, id+100, rouble1897("", ""), hash)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Comparable sales ---

func TestSQLite_FindSales_KeyMatching(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	noYear := rouble1897("", "")
	noYear.Year = nil

	lots := seedLots(t, st,
		soldLot("a1", "1", 1000, "2024-01-10", rouble1897("АГ", "MS61")),
		soldLot("a1", "2", 1100, "2024-02-10", rouble1897("АГ", "AU")),
		soldLot("a1", "3", 900, "2024-03-10", rouble1897("", "")),
		soldLot("a1", "4", 800, "2024-03-10", noYear),
		soldLot("a1", "5", 0, "2024-03-10", rouble1897("АГ", "MS61")),
		soldLot("a1", "6", 700, "2024-03-10", nil),
	)

	base := comparable.SalesQuery{Denomination: "15", Metal: model.MetalGold}

	t.Run("denomination and metal only", func(t *testing.T) {
		sales, err := st.FindSales(ctx, base)
		require.NoError(t, err)
		assert.Len(t, sales, 4)
		// Newest first.
		assert.Equal(t, day("2024-03-10"), sales[0].SaleDate)
	})

	t.Run("exact key", func(t *testing.T) {
		q := base
		q.MatchYear, q.Year = true, model.Int(1897)
		q.MatchLetters, q.Letters = true, "АГ"
		q.MatchCondition, q.Condition = true, "MS61"
		sales, err := st.FindSales(ctx, q)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, lots[0].ID, sales[0].LotID)
	})

	t.Run("empty letters match empty letters", func(t *testing.T) {
		q := base
		q.MatchLetters, q.Letters = true, ""
		sales, err := st.FindSales(ctx, q)
		require.NoError(t, err)
		assert.Len(t, sales, 2)
	})

	t.Run("nil year matches null year", func(t *testing.T) {
		q := base
		q.MatchYear = true
		sales, err := st.FindSales(ctx, q)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, lots[3].ID, sales[0].LotID)
		assert.Nil(t, sales[0].Year)
	})

	t.Run("before and exclude", func(t *testing.T) {
		q := base
		q.Before = day("2024-03-10")
		q.ExcludeLotID = lots[0].ID
		sales, err := st.FindSales(ctx, q)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, lots[1].ID, sales[0].LotID)
	})
}

func TestSQLite_FindSales_CategoryFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	withCategory := func(c model.Category) *model.LotAttributes {
		a := rouble1897("АГ", "")
		a.Category = c
		return a
	}
	lots := seedLots(t, st,
		soldLot("a1", "1", 1000, "2024-01-10", withCategory(model.CategoryCoin)),
		soldLot("a1", "2", 300, "2024-02-10", withCategory(model.CategoryMedal)),
		soldLot("a1", "3", 900, "2024-03-10", withCategory("")),
	)

	base := comparable.SalesQuery{Denomination: "15", Metal: model.MetalGold}
	sales, err := st.FindSales(ctx, base)
	require.NoError(t, err)
	assert.Len(t, sales, 3)

	q := base
	q.Category = model.CategoryCoin
	sales, err = st.FindSales(ctx, q)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, lots[2].ID, sales[0].LotID)
	assert.Empty(t, sales[0].Category)
	assert.Equal(t, lots[0].ID, sales[1].LotID)
	assert.Equal(t, model.CategoryCoin, sales[1].Category)
}

// --- Metals prices ---

func TestSQLite_PriceAt_NearestPrior(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertMetalsPrices(ctx, []model.MetalsPriceObservation{
		{Date: day("2024-01-10"), Gold: model.Float(6000), Silver: model.Float(70)},
		{Date: day("2024-01-12"), Gold: model.Float(6100)},
	})
	require.NoError(t, err)

	obs, err := st.PriceAt(ctx, day("2024-01-11"))
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.Equal(t, day("2024-01-10"), obs.Date)
	assert.InDelta(t, 6000, *obs.Gold, 0.001)

	obs, err = st.PriceAt(ctx, day("2024-01-12").Add(15*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.InDelta(t, 6100, *obs.Gold, 0.001)
	assert.Nil(t, obs.Silver)

	obs, err = st.PriceAt(ctx, day("2023-12-31"))
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestSQLite_UpsertMetalsPrices_ReplacesDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, gold := range []float64{6000, 6050} {
		_, err := st.UpsertMetalsPrices(ctx, []model.MetalsPriceObservation{
			{Date: day("2024-01-10"), Gold: model.Float(gold)},
		})
		require.NoError(t, err)
	}

	obs, err := st.PriceAt(ctx, day("2024-01-10"))
	require.NoError(t, err)
	assert.InDelta(t, 6050, *obs.Gold, 0.001)
}

// --- Predictions ---

func TestSQLite_UpsertPrediction_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lots := seedLots(t, st, soldLot("a1", "1", 1000, "2024-01-01", nil))
	id := lots[0].ID

	p := &model.PricePrediction{
		LotID:          id,
		PredictedPrice: 1050,
		Confidence:     62.5,
		Method:         model.MethodComparableSales,
		SampleSize:     3,
		MatchLevel:     "exact",
	}
	require.NoError(t, st.UpsertPrediction(ctx, p))

	p.PredictedPrice = 1200
	p.Method = model.MethodBlended
	p.MetalValue = model.Float(900)
	p.NumismaticPremium = model.Float(300)
	require.NoError(t, st.UpsertPrediction(ctx, p))

	all, err := st.ListPredictions(ctx, PredictionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	got, err := st.GetPrediction(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 1200, got.PredictedPrice, 0.001)
	assert.Equal(t, model.MethodBlended, got.Method)
	require.NotNil(t, got.MetalValue)
	assert.InDelta(t, 900, *got.MetalValue, 0.001)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = st.GetPrediction(ctx, id+1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListOutcomes_SoldOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	unsold := soldLot("a1", "2", 0, "2024-01-01", nil)
	unsold.WinningBid = nil
	lots := seedLots(t, st,
		soldLot("a1", "1", 1000, "2024-01-01", nil),
		unsold,
		soldLot("a2", "1", 500, "2024-01-01", nil),
	)
	for _, l := range lots {
		require.NoError(t, st.UpsertPrediction(ctx, &model.PricePrediction{
			LotID: l.ID, PredictedPrice: 900, Confidence: 50, Method: model.MethodMetalValue,
		}))
	}

	out, err := st.ListOutcomes(ctx, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].LotNumber)
	assert.InDelta(t, 90, out[0].Accuracy(), 0.001)

	out, err = st.ListOutcomes(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 500, out[0].WinningBid, 0.001)

	preds, err := st.ListPredictions(ctx, PredictionFilter{AuctionID: "a1"})
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

// --- Dead letter queue ---

func TestSQLite_DLQ_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now.Add(2 * time.Minute) }

	transient := resilience.NewDLQEntry(1, "run-1", "predict",
		&resilience.DataSourceTimeoutError{Source: "metals", Timeout: time.Second}, now)
	permanent := resilience.NewDLQEntry(2, "run-1", "predict", errors.New("corrupt attributes"), now)
	require.NoError(t, st.EnqueueDLQ(ctx, transient))
	require.NoError(t, st.EnqueueDLQ(ctx, permanent))

	count, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].LotID)
	assert.Equal(t, resilience.ErrorTransient, entries[0].ErrorType)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.True(t, entries[0].NextRetryAt.Equal(now.Add(time.Minute)))

	// Not yet due.
	st.now = func() time.Time { return now }
	entries, err = st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, st.RemoveDLQ(ctx, transient.ID))
	count, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Migrate was already called in newTestSQLiteStore.
	require.NoError(t, st.Migrate(context.Background()))
}
