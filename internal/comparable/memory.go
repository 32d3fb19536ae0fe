package comparable

import (
	"context"

	"github.com/numisdata/lotvalue/internal/model"
)

// MemorySource is a SalesSource over an in-memory slice. It applies the same
// key semantics as the SQL stores and is used for fixtures and offline runs.
type MemorySource struct {
	Sales []model.ComparableSale
}

// FindSales returns every sale matching q, in input order.
func (m *MemorySource) FindSales(_ context.Context, q SalesQuery) ([]model.ComparableSale, error) {
	var out []model.ComparableSale
	for _, s := range m.Sales {
		if Matches(s, q) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Matches reports whether s satisfies the key and date bounds of q.
func Matches(s model.ComparableSale, q SalesQuery) bool {
	if s.Denomination != q.Denomination || s.Metal != q.Metal {
		return false
	}
	if q.MatchYear && !sameYear(s.Year, q.Year) {
		return false
	}
	if q.MatchLetters && s.Letters != q.Letters {
		return false
	}
	if q.MatchCondition && s.Condition != q.Condition {
		return false
	}
	if q.Category != "" && s.Category != "" && s.Category != q.Category {
		return false
	}
	if !q.Before.IsZero() && !model.Day(s.SaleDate).Before(model.Day(q.Before)) {
		return false
	}
	return q.ExcludeLotID == 0 || s.LotID != q.ExcludeLotID
}

func sameYear(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
