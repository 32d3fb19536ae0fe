package extract

import (
	"github.com/numisdata/lotvalue/internal/model"
)

// span is a half-open byte range of the normalized text claimed by a rule.
type span struct {
	start, end int
}

// Builder accumulates LotAttributes during the rule cascade. Every setter
// is a no-op when the field already holds a value, so an earlier rule always
// wins over a later one. Rules also claim the text they matched; later
// rules skip matches that overlap a claimed range.
type Builder struct {
	attrs   model.LotAttributes
	claimed []span
	spans   map[string]span
	minYear int
	maxYear int
}

func newBuilder(minYear, maxYear int) *Builder {
	return &Builder{
		spans:   make(map[string]span),
		minYear: minYear,
		maxYear: maxYear,
	}
}

// Claim marks [start,end) as consumed by field.
func (b *Builder) Claim(field string, start, end int) {
	b.claimed = append(b.claimed, span{start, end})
	if _, ok := b.spans[field]; !ok {
		b.spans[field] = span{start, end}
	}
}

// Claimed reports whether [start,end) overlaps text consumed by an earlier rule.
func (b *Builder) Claimed(start, end int) bool {
	for _, s := range b.claimed {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// Span returns the text range a field was extracted from.
func (b *Builder) Span(field string) (start, end int, ok bool) {
	s, ok := b.spans[field]
	return s.start, s.end, ok
}

func (b *Builder) SetDenomination(v string) bool {
	if b.attrs.Denomination != "" || v == "" {
		return false
	}
	b.attrs.Denomination = v
	return true
}

func (b *Builder) SetCoinName(v string) bool {
	if b.attrs.CoinName != "" || v == "" {
		return false
	}
	b.attrs.CoinName = v
	return true
}

func (b *Builder) SetMetal(v model.Metal) bool {
	if b.attrs.Metal != "" || !v.Valid() {
		return false
	}
	b.attrs.Metal = v
	return true
}

// SetYear accepts only years inside the plausible range.
func (b *Builder) SetYear(v int) bool {
	if b.attrs.Year != nil || !b.YearInRange(v) {
		return false
	}
	b.attrs.Year = model.Int(v)
	return true
}

// YearInRange reports whether v is a plausible minting year.
func (b *Builder) YearInRange(v int) bool {
	return v >= b.minYear && v <= b.maxYear
}

func (b *Builder) SetMint(v string) bool {
	if b.attrs.Mint != "" || v == "" {
		return false
	}
	b.attrs.Mint = v
	return true
}

func (b *Builder) SetLetters(v string) bool {
	if b.attrs.Letters != "" || v == "" {
		return false
	}
	b.attrs.Letters = v
	return true
}

func (b *Builder) SetMintage(v int64) bool {
	if b.attrs.Mintage != nil || v <= 0 {
		return false
	}
	b.attrs.Mintage = model.Int64(v)
	return true
}

func (b *Builder) SetCondition(v string) bool {
	if b.attrs.Condition != "" || v == "" {
		return false
	}
	b.attrs.Condition = v
	return true
}

func (b *Builder) SetCategory(v model.Category) bool {
	if b.attrs.Category != "" || v == "" {
		return false
	}
	b.attrs.Category = v
	return true
}

func (b *Builder) SetRarity(v string) bool {
	if b.attrs.Rarity != "" || v == "" {
		return false
	}
	b.attrs.Rarity = v
	return true
}

// SetCountry records a country. inferred marks the currency heuristic.
func (b *Builder) SetCountry(v string, inferred bool) bool {
	if b.attrs.Country != "" || v == "" {
		return false
	}
	b.attrs.Country = v
	b.attrs.CountryInferred = inferred
	return true
}

func (b *Builder) SetCoinWeight(v float64) bool {
	if b.attrs.CoinWeight != nil || v <= 0 {
		return false
	}
	b.attrs.CoinWeight = model.Float(v)
	return true
}

func (b *Builder) SetPureMetalWeight(v float64) bool {
	if b.attrs.PureMetalWeight != nil || v <= 0 {
		return false
	}
	b.attrs.PureMetalWeight = model.Float(v)
	return true
}

func (b *Builder) SetWeightOz(v float64) bool {
	if b.attrs.WeightOz != nil || v <= 0 {
		return false
	}
	b.attrs.WeightOz = model.Float(v)
	return true
}

// SetFineness accepts fractions in (0, 1].
func (b *Builder) SetFineness(v float64) bool {
	if b.attrs.Fineness != nil || v <= 0 || v > 1 {
		return false
	}
	b.attrs.Fineness = model.Float(v)
	return true
}

// SetCatalog stores a catalog reference by catalog key.
func (b *Builder) SetCatalog(key catalog, v string) bool {
	if v == "" {
		return false
	}
	var dst *string
	switch key {
	case catalogBitkin:
		dst = &b.attrs.Bitkin
	case catalogUzdenikov:
		dst = &b.attrs.Uzdenikov
	case catalogIlyin:
		dst = &b.attrs.Ilyin
	case catalogPetrov:
		dst = &b.attrs.Petrov
	case catalogSeverin:
		dst = &b.attrs.Severin
	case catalogDyakov:
		dst = &b.attrs.Dyakov
	case catalogKazakov:
		dst = &b.attrs.Kazakov
	default:
		return false
	}
	if *dst != "" {
		return false
	}
	*dst = v
	return true
}

// Attributes returns the current snapshot.
func (b *Builder) Attributes() model.LotAttributes {
	return b.attrs
}
