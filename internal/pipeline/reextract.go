package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/store"
)

// ReextractSummary counts the outcome of a re-extraction pass.
type ReextractSummary struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Invalid   int `json:"invalid"`
}

// Reextract recomputes stored attributes for lots whose description hash no
// longer matches. With force set every lot is re-extracted.
func (s *Service) Reextract(ctx context.Context, filter store.LotFilter, force bool) (ReextractSummary, error) {
	var sum ReextractSummary
	lots, err := s.listAll(ctx, filter)
	if err != nil {
		return sum, err
	}

	for i := range lots {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "pipeline: reextract interrupted")
		}
		lot := &lots[i]
		sum.Scanned++
		if force {
			lot.Attributes = nil
		}
		if !lot.StaleAttributes() {
			sum.Unchanged++
			continue
		}
		err := s.EnsureAttributes(ctx, lot)
		var invalid *extract.InvalidInputError
		switch {
		case err == nil:
			sum.Updated++
		case errors.As(err, &invalid):
			sum.Invalid++
			zap.L().Debug("pipeline: lot has no usable description", zap.Int64("lot_id", lot.ID))
		default:
			return sum, err
		}
	}

	zap.L().Info("pipeline: reextract complete",
		zap.Int("scanned", sum.Scanned),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("invalid", sum.Invalid),
	)
	return sum, nil
}
