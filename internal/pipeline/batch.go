package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
	"github.com/numisdata/lotvalue/internal/store"
)

// Batch predicts every lot with at most Config.Concurrency workers. A
// failing lot never stops the batch: invalid descriptions and insufficient
// data are counted as skipped, anything else as failed and sent to the DLQ.
// On cancellation no new lots are started, upserts already made are kept,
// and the context error is returned with the partial summary.
func (s *Service) Batch(ctx context.Context, lots []model.Lot) (model.BatchSummary, error) {
	summary := model.BatchSummary{RunID: uuid.NewString(), Total: int64(len(lots))}
	log := zap.L().With(zap.String("run_id", summary.RunID))

	var succeeded, skipped, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for i := range lots {
		if ctx.Err() != nil {
			break
		}
		lot := lots[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := s.PredictLot(ctx, &lot)
			switch {
			case err == nil:
				succeeded.Add(1)
			case skippable(err):
				skipped.Add(1)
				log.Debug("pipeline: lot skipped", zap.Int64("lot_id", lot.ID), zap.Error(err))
			case ctx.Err() != nil:
				// Interrupted lots are neither failures nor DLQ material.
			default:
				failed.Add(1)
				log.Warn("pipeline: lot failed",
					zap.Int64("lot_id", lot.ID),
					zap.String("stage", StageOf(err)),
					zap.Error(err),
				)
				s.deadLetter(ctx, summary.RunID, lot.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Succeeded = succeeded.Load()
	summary.Skipped = skipped.Load()
	summary.Failed = failed.Load()

	log.Info("pipeline: batch complete",
		zap.Int64("total", summary.Total),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("failed", summary.Failed),
	)
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "pipeline: batch interrupted")
	}
	return summary, nil
}

// Run lists lots matching filter, paging by id, and predicts them as one
// batch.
func (s *Service) Run(ctx context.Context, filter store.LotFilter) (model.BatchSummary, error) {
	lots, err := s.listAll(ctx, filter)
	if err != nil {
		return model.BatchSummary{}, err
	}
	return s.Batch(ctx, lots)
}

// RetryDLQ re-predicts lots whose DLQ entries are due. Successful and
// skipped lots leave the queue; failures are re-queued with the retry count
// incremented.
func (s *Service) RetryDLQ(ctx context.Context, limit int) (model.BatchSummary, error) {
	summary := model.BatchSummary{RunID: uuid.NewString()}
	if s.dlq == nil || s.lots == nil {
		return summary, eris.New("pipeline: dlq retry needs a lot source and a dlq")
	}
	entries, err := s.dlq.DequeueDLQ(ctx, resilience.DLQFilter{Limit: limit})
	if err != nil {
		return summary, eris.Wrap(err, "pipeline: dequeue dlq")
	}
	summary.Total = int64(len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "pipeline: dlq retry interrupted")
		}
		_, perr := s.PredictByID(ctx, e.LotID)
		switch {
		case perr == nil || skippable(perr):
			if perr == nil {
				summary.Succeeded++
			} else {
				summary.Skipped++
			}
			if err := s.dlq.RemoveDLQ(ctx, e.ID); err != nil {
				return summary, eris.Wrapf(err, "pipeline: remove dlq entry %s", e.ID)
			}
		default:
			summary.Failed++
			now := s.now().UTC()
			e.RetryCount++
			e.Error = perr.Error()
			e.ErrorType = resilience.ClassifyError(perr)
			e.Stage = StageOf(perr)
			e.LastFailedAt = now
			e.NextRetryAt = now.Add(retryDelay(e.RetryCount))
			if err := s.dlq.EnqueueDLQ(ctx, e); err != nil {
				return summary, eris.Wrapf(err, "pipeline: requeue dlq entry %s", e.ID)
			}
		}
	}
	return summary, nil
}

func (s *Service) deadLetter(ctx context.Context, runID string, lotID int64, err error) {
	if s.dlq == nil {
		return
	}
	entry := resilience.NewDLQEntry(lotID, runID, StageOf(err), err, s.now().UTC())
	// The batch context may be cancelled by now; the entry must still land.
	if qerr := s.dlq.EnqueueDLQ(context.WithoutCancel(ctx), entry); qerr != nil {
		zap.L().Error("pipeline: enqueue dlq entry", zap.Int64("lot_id", lotID), zap.Error(qerr))
	}
}

func (s *Service) listAll(ctx context.Context, filter store.LotFilter) ([]model.Lot, error) {
	if s.lots == nil {
		return nil, eris.New("pipeline: no lot source configured")
	}
	const page = 1000
	var all []model.Lot
	f := filter
	for {
		f.Limit = page
		if filter.Limit > 0 {
			f.Limit = min(page, filter.Limit-len(all))
		}
		lots, err := s.lots.ListLots(ctx, f)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: list lots")
		}
		all = append(all, lots...)
		if len(lots) < f.Limit || (filter.Limit > 0 && len(all) >= filter.Limit) {
			return all, nil
		}
		f.AfterID = lots[len(lots)-1].ID
	}
}

// retryDelay doubles from one minute per attempt, capped at an hour.
func retryDelay(attempt int) time.Duration {
	d := time.Minute << min(attempt, 6)
	return min(d, time.Hour)
}
