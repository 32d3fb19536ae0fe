// Package comparable finds historical sales equivalent to a target lot by
// walking a ladder of progressively looser match keys.
package comparable

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
)

// SalesQuery selects historical sales. Key fields are matched only when the
// corresponding Match flag is set; an empty target value matches sales
// where the field is also empty.
type SalesQuery struct {
	Denomination string
	Metal        model.Metal

	MatchYear bool
	Year      *int

	MatchLetters bool
	Letters      string

	MatchCondition bool
	Condition      string

	// Category, when set, drops sales classified as something else.
	// Unclassified sales still match.
	Category model.Category

	// Before excludes sales on or after this time when non-zero.
	Before time.Time
	// ExcludeLotID drops the target lot from its own comparables.
	ExcludeLotID int64
}

// SalesSource runs a SalesQuery against historical results.
type SalesSource interface {
	FindSales(ctx context.Context, q SalesQuery) ([]model.ComparableSale, error)
}

// Config tunes the matcher.
type Config struct {
	// MinSamples is the number of sold comparables that ends the ladder.
	MinSamples int `mapstructure:"min_samples"`
	// MaxComparables keeps only the N most recent sales at the chosen level.
	// Zero keeps all.
	MaxComparables int `mapstructure:"max_comparables"`
}

// DefaultMinSamples is the sample-size threshold used when none is set.
const DefaultMinSamples = 3

// Target identifies the lot being matched.
type Target struct {
	LotID      int64
	Attributes *model.LotAttributes
	// AsOf limits comparables to sales strictly before it.
	AsOf time.Time
}

// Result is the outcome of a ladder walk.
type Result struct {
	Level Level                  `json:"level"`
	Sales []model.ComparableSale `json:"sales"`
	Stats Stats                  `json:"stats"`
	// Met reports whether Stats.Count reached MinSamples at Level.
	Met bool `json:"met"`
}

// Matcher walks the relaxation ladder against a SalesSource.
type Matcher struct {
	src SalesSource
	cfg Config
}

// NewMatcher returns a Matcher. A non-positive MinSamples becomes
// DefaultMinSamples.
func NewMatcher(src SalesSource, cfg Config) *Matcher {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Matcher{src: src, cfg: cfg}
}

// Match queries each level from strictest to loosest and stops at the first
// with at least MinSamples sold comparables. When no level qualifies, the
// strictest level with any sold comparables is returned with Met=false; a
// nil Result means nothing was found at all.
func (m *Matcher) Match(ctx context.Context, t Target) (*Result, error) {
	if t.Attributes == nil {
		return nil, nil
	}

	var fallback *Result
	level := LevelExact
	for {
		sales, err := m.src.FindSales(ctx, m.query(t, level))
		if err != nil {
			return nil, eris.Wrapf(err, "comparable: find sales at %s", level)
		}
		sales = m.eligible(sales, t.LotID)

		if len(sales) > 0 {
			res := &Result{Level: level, Sales: sales, Stats: Summarize(sales)}
			if res.Stats.Count >= m.cfg.MinSamples {
				res.Met = true
				return res, nil
			}
			if fallback == nil {
				fallback = res
			}
		}

		zap.L().Debug("comparable: relaxing match key",
			zap.Int64("lot_id", t.LotID),
			zap.Stringer("level", level),
			zap.Int("found", len(sales)),
		)
		next, ok := level.next()
		if !ok {
			return fallback, nil
		}
		level = next
	}
}

func (m *Matcher) query(t Target, level Level) SalesQuery {
	a := t.Attributes
	q := SalesQuery{
		Denomination:   a.Denomination,
		Metal:          a.Metal,
		MatchYear:      level.matchesYear(),
		MatchLetters:   level.matchesLetters(),
		MatchCondition: level.matchesCondition(),
		Category:       a.Category,
		Before:         t.AsOf,
		ExcludeLotID:   t.LotID,
	}
	if q.MatchYear {
		q.Year = a.Year
	}
	if q.MatchLetters {
		q.Letters = a.Letters
	}
	if q.MatchCondition {
		q.Condition = a.Condition
	}
	return q
}

// eligible keeps sold sales other than the target, newest first, capped at
// MaxComparables. Ties on date are ordered by lot id.
func (m *Matcher) eligible(sales []model.ComparableSale, exclude int64) []model.ComparableSale {
	out := make([]model.ComparableSale, 0, len(sales))
	for _, s := range sales {
		if s.Sold() && (exclude == 0 || s.LotID != exclude) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.After(out[j].SaleDate)
		}
		return out[i].LotID < out[j].LotID
	})
	if m.cfg.MaxComparables > 0 && len(out) > m.cfg.MaxComparables {
		out = out[:m.cfg.MaxComparables]
	}
	return out
}
