package comparable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisdata/lotvalue/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sale(id int64, bid *float64, daysAgo int, mut ...func(*model.ComparableSale)) model.ComparableSale {
	s := model.ComparableSale{
		LotID:        id,
		AuctionID:    "A1",
		Denomination: "15",
		Metal:        model.MetalGold,
		Year:         model.Int(1897),
		Letters:      "АГ",
		Condition:    "MS61",
		WinningBid:   bid,
		SaleDate:     base.AddDate(0, 0, -daysAgo),
	}
	for _, f := range mut {
		f(&s)
	}
	return s
}

func condition(c string) func(*model.ComparableSale) {
	return func(s *model.ComparableSale) { s.Condition = c }
}

func letters(l string) func(*model.ComparableSale) {
	return func(s *model.ComparableSale) { s.Letters = l }
}

func year(y int) func(*model.ComparableSale) {
	return func(s *model.ComparableSale) { s.Year = model.Int(y) }
}

func target() Target {
	return Target{
		LotID: 999,
		Attributes: &model.LotAttributes{
			Denomination: "15",
			Metal:        model.MetalGold,
			Year:         model.Int(1897),
			Letters:      "АГ",
			Condition:    "MS61",
		},
		AsOf: base.AddDate(0, 0, 1),
	}
}

type recordingSource struct {
	inner   SalesSource
	queries []SalesQuery
}

func (r *recordingSource) FindSales(ctx context.Context, q SalesQuery) ([]model.ComparableSale, error) {
	r.queries = append(r.queries, q)
	return r.inner.FindSales(ctx, q)
}

func TestMatch_ExactLevel(t *testing.T) {
	src := &recordingSource{inner: &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 50),
		sale(2, model.Float(1100), 40),
		sale(3, model.Float(1050), 30),
		sale(4, model.Float(1200), 20),
		sale(5, model.Float(900), 10),
	}}}

	res, err := NewMatcher(src, Config{MinSamples: 3}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Met)
	assert.Equal(t, LevelExact, res.Level)
	assert.Equal(t, 5, res.Stats.Count)
	assert.Equal(t, 1050.0, res.Stats.Median)
	assert.Equal(t, 1050.0, res.Stats.Mean)
	assert.Equal(t, 900.0, res.Stats.Min)
	assert.Equal(t, 1200.0, res.Stats.Max)
	assert.Len(t, src.queries, 1)
}

func TestMatch_WalksLadder(t *testing.T) {
	src := &recordingSource{inner: &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 5),
		sale(2, model.Float(2000), 6, condition("AU")),
		sale(3, model.Float(3000), 7, letters("СПБ"), condition("XF")),
		sale(4, model.Float(4000), 8, year(1898)),
	}}}

	res, err := NewMatcher(src, Config{MinSamples: 3}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Met)
	assert.Equal(t, LevelRelaxLetters, res.Level)
	assert.Equal(t, 3, res.Stats.Count)
	require.Len(t, src.queries, 3)

	assert.True(t, src.queries[0].MatchCondition)
	assert.False(t, src.queries[1].MatchCondition)
	assert.True(t, src.queries[1].MatchLetters)
	assert.False(t, src.queries[2].MatchLetters)
	assert.True(t, src.queries[2].MatchYear)
}

func TestMatch_RelaxYearIsLastResort(t *testing.T) {
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 5, year(1890)),
		sale(2, model.Float(1000), 6, year(1891)),
		sale(3, model.Float(1000), 7, year(1892)),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 3}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, LevelRelaxYear, res.Level)
	assert.True(t, res.Met)
}

func TestMatch_BelowThresholdReturnsStrictestNonEmpty(t *testing.T) {
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 5),
		sale(2, model.Float(3000), 6, year(1900)),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 3}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Met)
	assert.Equal(t, LevelExact, res.Level)
	assert.Equal(t, 1, res.Stats.Count)
}

func TestMatch_NothingFound(t *testing.T) {
	res, err := NewMatcher(&MemorySource{}, Config{}).Match(context.Background(), target())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMatch_ExcludesUnsoldAndSelf(t *testing.T) {
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(1, nil, 5),
		sale(2, model.Float(0), 6),
		sale(3, model.Float(-5), 7),
		sale(999, model.Float(5000), 8),
		sale(4, model.Float(700), 9),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 1}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Sales, 1)
	assert.Equal(t, int64(4), res.Sales[0].LotID)
	for _, s := range res.Sales {
		assert.True(t, s.Sold())
	}
}

func TestMatch_ExcludesSalesAfterValuationDate(t *testing.T) {
	tg := target()
	tg.AsOf = base.AddDate(0, 0, -10)
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 5),
		sale(2, model.Float(1000), 20),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 1}).Match(context.Background(), tg)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Sales, 1)
	assert.Equal(t, int64(2), res.Sales[0].LotID)
}

func TestMatch_ValuationDateComparesByDay(t *testing.T) {
	tg := target()
	tg.AsOf = base.Add(15 * time.Hour)
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 0, func(s *model.ComparableSale) { s.SaleDate = base.Add(9 * time.Hour) }),
		sale(2, model.Float(1000), 1),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 1}).Match(context.Background(), tg)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Sales, 1)
	assert.Equal(t, int64(2), res.Sales[0].LotID)
}

func TestMatch_SkipsOtherCategories(t *testing.T) {
	tg := target()
	tg.Attributes.Category = model.CategoryCoin
	category := func(c model.Category) func(*model.ComparableSale) {
		return func(s *model.ComparableSale) { s.Category = c }
	}
	rec := &recordingSource{inner: &MemorySource{Sales: []model.ComparableSale{
		sale(1, model.Float(1000), 1, category(model.CategoryCoin)),
		sale(2, model.Float(50), 2, category(model.CategoryMedal)),
		sale(3, model.Float(1100), 3),
	}}}
	res, err := NewMatcher(rec, Config{MinSamples: 2}).Match(context.Background(), tg)
	require.NoError(t, err)
	require.NotNil(t, res)

	var ids []int64
	for _, s := range res.Sales {
		ids = append(ids, s.LotID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
	require.NotEmpty(t, rec.queries)
	assert.Equal(t, model.CategoryCoin, rec.queries[0].Category)
}

func TestMatch_OrdersByRecencyAndCaps(t *testing.T) {
	src := &MemorySource{Sales: []model.ComparableSale{
		sale(5, model.Float(100), 30),
		sale(2, model.Float(200), 10),
		sale(1, model.Float(300), 10),
		sale(3, model.Float(400), 1),
	}}
	res, err := NewMatcher(src, Config{MinSamples: 2, MaxComparables: 3}).Match(context.Background(), target())
	require.NoError(t, err)
	require.NotNil(t, res)

	var ids []int64
	for _, s := range res.Sales {
		ids = append(ids, s.LotID)
	}
	assert.Equal(t, []int64{3, 1, 2}, ids)
	assert.Equal(t, 300.0, res.Stats.Median)
}

type failingSource struct{ err error }

func (f failingSource) FindSales(context.Context, SalesQuery) ([]model.ComparableSale, error) {
	return nil, f.err
}

func TestMatch_SourceErrorIsWrapped(t *testing.T) {
	sentinel := errors.New("pool closed")
	_, err := NewMatcher(failingSource{err: sentinel}, Config{}).Match(context.Background(), target())
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestSummarize_EvenCount(t *testing.T) {
	st := Summarize([]model.ComparableSale{
		sale(1, model.Float(10), 1),
		sale(2, model.Float(40), 1),
		sale(3, model.Float(20), 1),
		sale(4, model.Float(30), 1),
		sale(5, nil, 1),
	})
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 25.0, st.Median)
	assert.Equal(t, 25.0, st.Mean)
}

func TestLevel_Names(t *testing.T) {
	for _, l := range Levels {
		parsed, ok := ParseLevel(l.String())
		require.True(t, ok)
		assert.Equal(t, l, parsed)
	}
	_, ok := ParseLevel("fuzzy")
	assert.False(t, ok)
}
