package pipeline

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/metalvalue"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/predict"
	"github.com/numisdata/lotvalue/internal/resilience"
	"github.com/numisdata/lotvalue/internal/store"
)

// --- Lot source fake ---

type fakeLots struct {
	mu      sync.Mutex
	lots    map[int64]model.Lot
	updated map[int64]string
	listErr error
}

func newFakeLots(lots ...model.Lot) *fakeLots {
	f := &fakeLots{lots: make(map[int64]model.Lot), updated: make(map[int64]string)}
	for _, l := range lots {
		f.lots[l.ID] = l
	}
	return f
}

func (f *fakeLots) GetLot(_ context.Context, id int64) (*model.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (f *fakeLots) ListLots(_ context.Context, filter store.LotFilter) ([]model.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Lot
	for _, l := range f.lots {
		if filter.AuctionID != "" && l.AuctionID != filter.AuctionID {
			continue
		}
		if l.ID <= filter.AfterID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeLots) UpdateLotAttributes(_ context.Context, id int64, attrs *model.LotAttributes, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lots[id]
	if !ok {
		return store.ErrNotFound
	}
	l.Attributes = attrs
	l.AttributesHash = hash
	f.lots[id] = l
	f.updated[id] = hash
	return nil
}

// --- Prediction sink mock ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) UpsertPrediction(ctx context.Context, p *model.PricePrediction) error {
	return m.Called(ctx, p).Error(0)
}

// --- DLQ mock ---

type mockDLQ struct {
	mock.Mock
}

func (m *mockDLQ) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockDLQ) DequeueDLQ(ctx context.Context, f resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]resilience.DLQEntry), args.Error(1)
}

func (m *mockDLQ) RemoveDLQ(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDLQ) CountDLQ(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// --- Metals source fake ---

type fakeMetals struct {
	calls atomic.Int64
	obs   *model.MetalsPriceObservation
	err   error
	block bool
}

func (f *fakeMetals) PriceAt(ctx context.Context, _ time.Time) (*model.MetalsPriceObservation, error) {
	f.calls.Add(1)
	if f.block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return f.obs, f.err
}

// --- helpers ---

var saleDay = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func roubleAttrs() *model.LotAttributes {
	return &model.LotAttributes{
		Denomination: "1",
		CoinName:     "рубль",
		Metal:        model.MetalCopper,
		Year:         model.Int(1897),
		Letters:      "АГ",
		Condition:    "XF",
	}
}

func freshLot(id int64, attrs *model.LotAttributes) model.Lot {
	desc := "lot"
	return model.Lot{
		ID:             id,
		AuctionID:      "970",
		LotNumber:      strconv.FormatInt(id, 10),
		Description:    desc,
		SaleDate:       saleDay,
		Attributes:     attrs,
		AttributesHash: model.DescriptionHash(desc),
	}
}

func sales(a *model.LotAttributes, bids ...float64) *comparable.MemorySource {
	src := &comparable.MemorySource{}
	for i, b := range bids {
		src.Sales = append(src.Sales, model.ComparableSale{
			LotID:        int64(100 + i),
			AuctionID:    "960",
			Denomination: a.Denomination,
			Metal:        a.Metal,
			Year:         a.Year,
			Letters:      a.Letters,
			Condition:    a.Condition,
			WinningBid:   model.Float(b),
			SaleDate:     saleDay.AddDate(0, -1-i, 0),
		})
	}
	return src
}

func fastConfig() Config {
	return Config{
		LookupTimeout: 20 * time.Millisecond,
		Concurrency:   4,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
		Circuit: resilience.CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: time.Minute},
	}
}

func newService(t *testing.T, d Deps, cfg Config) *Service {
	t.Helper()
	if d.Predictor == nil {
		d.Predictor = predict.New(predict.Config{})
	}
	return New(d, cfg)
}

// --- PredictLot ---

func TestPredictLot_ComparableSales(t *testing.T) {
	attrs := roubleAttrs()
	sink := &mockSink{}
	sink.On("UpsertPrediction", mock.Anything, mock.MatchedBy(func(p *model.PricePrediction) bool {
		return p.LotID == 1
	})).Return(nil).Once()

	svc := newService(t, Deps{
		Predictions: sink,
		Matcher:     comparable.NewMatcher(sales(attrs, 1000, 1200, 1100), comparable.Config{}),
	}, fastConfig())

	lot := freshLot(1, attrs)
	pred, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)

	assert.Equal(t, model.MethodComparableSales, pred.Method)
	assert.InDelta(t, 1100, pred.PredictedPrice, 1e-9)
	assert.Equal(t, 3, pred.SampleSize)
	assert.Equal(t, "exact", pred.MatchLevel)
	assert.Nil(t, pred.MetalValue)
	sink.AssertExpectations(t)
}

func TestPredictLot_ExtractsStaleAttributes(t *testing.T) {
	lot := model.Lot{ID: 7, AuctionID: "970", LotNumber: "7", Description: "15 рублей 1897 г. АГ MS61", SaleDate: saleDay}
	lots := newFakeLots(lot)

	want := &model.LotAttributes{Denomination: "15", Year: model.Int(1897), Letters: "АГ", Condition: "MS61"}
	sink := &mockSink{}
	sink.On("UpsertPrediction", mock.Anything, mock.Anything).Return(nil)

	svc := newService(t, Deps{
		Lots:        lots,
		Predictions: sink,
		Matcher:     comparable.NewMatcher(sales(want, 90000, 95000, 100000), comparable.Config{}),
	}, fastConfig())

	pred, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)
	require.NotNil(t, lot.Attributes)
	assert.Equal(t, "15", lot.Attributes.Denomination)
	assert.Equal(t, model.DescriptionHash(lot.Description), lots.updated[7])
	assert.InDelta(t, 95000, pred.PredictedPrice, 1e-9)
}

func TestPredictLot_FreshAttributesAreNotReextracted(t *testing.T) {
	attrs := roubleAttrs()
	lots := newFakeLots()
	sink := &mockSink{}
	sink.On("UpsertPrediction", mock.Anything, mock.Anything).Return(nil)

	svc := newService(t, Deps{
		Lots:        lots,
		Predictions: sink,
		Matcher:     comparable.NewMatcher(sales(attrs, 10, 20, 30), comparable.Config{}),
	}, fastConfig())

	lot := freshLot(1, attrs)
	_, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)
	assert.Empty(t, lots.updated)
	assert.Same(t, attrs, lot.Attributes)
}

func TestPredictLot_InvalidDescription(t *testing.T) {
	sink := &mockSink{}
	svc := newService(t, Deps{Predictions: sink}, fastConfig())

	lot := model.Lot{ID: 3, Description: "   "}
	_, err := svc.PredictLot(context.Background(), &lot)

	var invalid *extract.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StageExtract, StageOf(err))
	assert.True(t, skippable(err))
	sink.AssertNotCalled(t, "UpsertPrediction", mock.Anything, mock.Anything)
}

func TestPredictLot_InsufficientDataIsNotPersisted(t *testing.T) {
	sink := &mockSink{}
	svc := newService(t, Deps{
		Predictions: sink,
		Matcher:     comparable.NewMatcher(&comparable.MemorySource{}, comparable.Config{}),
	}, fastConfig())

	lot := freshLot(4, roubleAttrs())
	_, err := svc.PredictLot(context.Background(), &lot)

	var insufficient *predict.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, skippable(err))
	sink.AssertNotCalled(t, "UpsertPrediction", mock.Anything, mock.Anything)
}

func goldAttrs() *model.LotAttributes {
	return &model.LotAttributes{
		Denomination:    "10",
		CoinName:        "рублей",
		Metal:           model.MetalGold,
		Year:            model.Int(1899),
		PureMetalWeight: model.Float(7.74),
	}
}

func TestPredictLot_MetalValueOnly(t *testing.T) {
	metals := &fakeMetals{obs: &model.MetalsPriceObservation{Date: saleDay, Gold: model.Float(5000)}}
	sink := &mockSink{}
	sink.On("UpsertPrediction", mock.Anything, mock.Anything).Return(nil)

	svc := newService(t, Deps{
		Predictions: sink,
		Metals:      metalvalue.NewCalculator(metals),
		Matcher:     comparable.NewMatcher(&comparable.MemorySource{}, comparable.Config{}),
	}, fastConfig())

	lot := freshLot(2, goldAttrs())
	pred, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)

	assert.Equal(t, model.MethodMetalValue, pred.Method)
	require.NotNil(t, pred.MetalValue)
	assert.InDelta(t, 38700, *pred.MetalValue, 1e-6)
	assert.Greater(t, pred.PredictedPrice, *pred.MetalValue)
	assert.LessOrEqual(t, pred.Confidence, 35.0)
}

func TestPredictLot_MetalsTimeoutDegrades(t *testing.T) {
	attrs := goldAttrs()
	metals := &fakeMetals{block: true}
	sink := &mockSink{}
	sink.On("UpsertPrediction", mock.Anything, mock.Anything).Return(nil)

	svc := newService(t, Deps{
		Predictions: sink,
		Metals:      metalvalue.NewCalculator(metals),
		Matcher:     comparable.NewMatcher(sales(attrs, 40000, 42000, 44000), comparable.Config{}),
	}, fastConfig())

	lot := freshLot(5, attrs)
	pred, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)

	assert.Equal(t, int64(2), metals.calls.Load(), "timeout is retried once")
	assert.Equal(t, model.MethodComparableSales, pred.Method)
	assert.Nil(t, pred.MetalValue)
	assert.InDelta(t, 42000, pred.PredictedPrice, 1e-9)
}

func TestPredictLot_TimeoutWithoutComparablesIsInsufficient(t *testing.T) {
	svc := newService(t, Deps{
		Metals:  metalvalue.NewCalculator(&fakeMetals{block: true}),
		Matcher: comparable.NewMatcher(&comparable.MemorySource{}, comparable.Config{}),
	}, fastConfig())

	lot := freshLot(6, goldAttrs())
	_, err := svc.PredictLot(context.Background(), &lot)

	var insufficient *predict.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}

func TestPredictLot_OpenCircuitSkipsLookup(t *testing.T) {
	metals := &fakeMetals{block: true}
	cfg := fastConfig()
	cfg.Circuit.FailureThreshold = 1

	attrs := goldAttrs()
	svc := newService(t, Deps{
		Metals:  metalvalue.NewCalculator(metals),
		Matcher: comparable.NewMatcher(sales(attrs, 1, 2, 3), comparable.Config{}),
	}, cfg)

	lot := freshLot(8, attrs)
	_, err := svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metals.calls.Load())
	assert.Equal(t, resilience.CircuitOpen, svc.Breakers().Get(SourceMetals).State())

	_, err = svc.PredictLot(context.Background(), &lot)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metals.calls.Load(), "open circuit short-circuits the lookup")
}

func TestPredictLot_SourceErrorFails(t *testing.T) {
	svc := newService(t, Deps{
		Metals: metalvalue.NewCalculator(&fakeMetals{err: errors.New("relation metals_prices does not exist")}),
	}, fastConfig())

	lot := freshLot(9, goldAttrs())
	_, err := svc.PredictLot(context.Background(), &lot)
	require.Error(t, err)
	assert.Equal(t, StageMetalValue, StageOf(err))
	assert.False(t, skippable(err))
}

func TestPredictByID(t *testing.T) {
	attrs := roubleAttrs()
	lots := newFakeLots(freshLot(11, attrs))
	svc := newService(t, Deps{
		Lots:    lots,
		Matcher: comparable.NewMatcher(sales(attrs, 5, 6, 7), comparable.Config{}),
	}, fastConfig())

	pred, err := svc.PredictByID(context.Background(), 11)
	require.NoError(t, err)
	assert.InDelta(t, 6, pred.PredictedPrice, 1e-9)

	_, err = svc.PredictByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
