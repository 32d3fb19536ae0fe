// Package extract turns normalized lot descriptions into typed LotAttributes
// through an ordered cascade of named pattern rules.
package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/normalize"
)

// DefaultDenomination is used when a description has no leading number:
// such coins are treated as unit-denomination pieces.
const DefaultDenomination = "1"

// MinYear is the earliest year accepted as a minting year.
const MinYear = 1700

// Extractor applies a rule cascade to lot descriptions. It is safe for
// concurrent use.
type Extractor struct {
	rules []Rule
	now   func() time.Time
}

// New returns an Extractor using DefaultRules.
func New() *Extractor {
	return &Extractor{rules: DefaultRules(), now: time.Now}
}

// NewWithRules returns an Extractor running the given rules in order.
func NewWithRules(rules []Rule) *Extractor {
	return &Extractor{rules: rules, now: time.Now}
}

// Rules returns the cascade in execution order.
func (e *Extractor) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Extract normalizes description and runs the rule cascade. Fields with no
// match are left empty. It fails only with *InvalidInputError, for blank
// descriptions and for bytes that are not valid UTF-8.
func (e *Extractor) Extract(description string) (*model.LotAttributes, error) {
	if !utf8.ValidString(description) {
		return nil, &InvalidInputError{Reason: "description is not valid UTF-8"}
	}
	if strings.ContainsRune(description, 0) {
		return nil, &InvalidInputError{Reason: "description contains NUL bytes"}
	}
	text := normalize.Normalize(description)
	if text == "" {
		return nil, &InvalidInputError{Reason: "description is empty"}
	}

	b := newBuilder(MinYear, e.now().Year()+1)
	for _, r := range e.rules {
		r.Apply(text, b)
	}
	b.SetDenomination(DefaultDenomination)

	attrs := b.Attributes()
	reconcileWeights(&attrs)
	return &attrs, nil
}
