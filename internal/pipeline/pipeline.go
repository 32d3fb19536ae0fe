// Package pipeline runs the extract, value, match and predict steps for
// single lots and bounded batches.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/metalvalue"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/predict"
	"github.com/numisdata/lotvalue/internal/resilience"
	"github.com/numisdata/lotvalue/internal/store"
)

// Lookup source names, used for circuit breakers and timeout errors.
const (
	SourceMetals      = "metals"
	SourceComparables = "comparables"
)

// Stages recorded on DLQ entries.
const (
	StageExtract     = "extract"
	StageMetalValue  = "metal_value"
	StageComparables = "comparables"
	StagePredict     = "predict"
	StagePersist     = "persist"
)

// Default tuning.
const (
	DefaultLookupTimeout = 5 * time.Second
	DefaultConcurrency   = 8
)

// Config tunes lookups and batch concurrency.
type Config struct {
	LookupTimeout time.Duration
	Concurrency   int
	Retry         resilience.RetryConfig
	Circuit       resilience.CircuitBreakerConfig
}

// Deps are the collaborators of a Service. Lots and DLQ may be nil: without
// Lots fresh attributes are not written back, without DLQ failures are only
// logged.
type Deps struct {
	Lots        store.LotSource
	Predictions store.PredictionSink
	DLQ         store.DLQ
	Extractor   *extract.Extractor
	Metals      *metalvalue.Calculator
	Matcher     *comparable.Matcher
	Predictor   *predict.Predictor
}

// Service predicts prices for lots.
type Service struct {
	lots      store.LotSource
	preds     store.PredictionSink
	dlq       store.DLQ
	extractor *extract.Extractor
	metals    *metalvalue.Calculator
	matcher   *comparable.Matcher
	predictor *predict.Predictor
	breakers  *resilience.Breakers
	cfg       Config
	now       func() time.Time
}

// New creates a Service. Zero Config fields take defaults.
func New(d Deps, cfg Config) *Service {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Circuit.FailureThreshold <= 0 {
		cfg.Circuit = resilience.DefaultCircuitBreakerConfig()
	}
	if d.Extractor == nil {
		d.Extractor = extract.New()
	}
	if d.Predictor == nil {
		d.Predictor = predict.New(predict.Config{})
	}
	return &Service{
		lots:      d.Lots,
		preds:     d.Predictions,
		dlq:       d.DLQ,
		extractor: d.Extractor,
		metals:    d.Metals,
		matcher:   d.Matcher,
		predictor: d.Predictor,
		breakers:  resilience.NewBreakers(cfg.Circuit),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Breakers exposes per-source circuit state.
func (s *Service) Breakers() *resilience.Breakers { return s.breakers }

// StageError tags a failure with the step that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on err, or StagePredict.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StagePredict
}

// EnsureAttributes extracts attributes when the lot has none or its
// description changed since the last extraction. Fresh attributes are
// written back when a LotSource is configured.
func (s *Service) EnsureAttributes(ctx context.Context, lot *model.Lot) error {
	if !lot.StaleAttributes() {
		return nil
	}
	attrs, err := s.extractor.Extract(lot.Description)
	if err != nil {
		return stageErr(StageExtract, err)
	}
	hash := model.DescriptionHash(lot.Description)
	if s.lots != nil && lot.ID > 0 {
		if err := s.lots.UpdateLotAttributes(ctx, lot.ID, attrs, hash); err != nil {
			return stageErr(StagePersist, eris.Wrapf(err, "pipeline: store attributes for lot %d", lot.ID))
		}
	}
	lot.Attributes = attrs
	lot.AttributesHash = hash
	return nil
}

// PredictLot extracts (when stale), values and matches the lot, then
// predicts and upserts its price. A lookup that times out after its retry,
// or whose circuit is open, is treated as unavailable.
func (s *Service) PredictLot(ctx context.Context, lot *model.Lot) (*model.PricePrediction, error) {
	if err := s.EnsureAttributes(ctx, lot); err != nil {
		return nil, err
	}
	attrs := lot.Attributes
	asOf := lot.SaleDate
	if asOf.IsZero() {
		asOf = s.now()
	}

	var metalValue *float64
	if s.metals != nil {
		v, err := lookup(ctx, s, SourceMetals, lot.ID, func(ctx context.Context) (*float64, error) {
			return s.metals.Value(ctx, attrs, asOf)
		})
		if err != nil {
			return nil, stageErr(StageMetalValue, err)
		}
		metalValue = v
	}

	var comps *comparable.Result
	if s.matcher != nil {
		r, err := lookup(ctx, s, SourceComparables, lot.ID, func(ctx context.Context) (*comparable.Result, error) {
			return s.matcher.Match(ctx, comparable.Target{LotID: lot.ID, Attributes: attrs, AsOf: asOf})
		})
		if err != nil {
			return nil, stageErr(StageComparables, err)
		}
		comps = r
	}

	pred, err := s.predictor.Predict(predict.Input{
		LotID:       lot.ID,
		Metal:       attrs.Metal,
		Comparables: comps,
		MetalValue:  metalValue,
	})
	if err != nil {
		return nil, stageErr(StagePredict, err)
	}

	if s.preds != nil {
		if err := s.preds.UpsertPrediction(ctx, pred); err != nil {
			return nil, stageErr(StagePersist, eris.Wrapf(err, "pipeline: upsert prediction for lot %d", lot.ID))
		}
	}
	return pred, nil
}

// PredictByID loads a lot and predicts it.
func (s *Service) PredictByID(ctx context.Context, id int64) (*model.PricePrediction, error) {
	if s.lots == nil {
		return nil, eris.New("pipeline: no lot source configured")
	}
	lot, err := s.lots.GetLot(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: get lot %d", id)
	}
	return s.PredictLot(ctx, lot)
}

// lookup runs fn under the per-lookup timeout and the source's circuit
// breaker, retrying transient failures. Timeouts and open circuits degrade
// to the zero value.
func lookup[T any](ctx context.Context, s *Service, source string, lotID int64, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := s.breakers.Get(source)
	retry := s.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(source)

	val, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (T, error) {
			return resilience.WithTimeout(ctx, source, s.cfg.LookupTimeout, fn)
		})
	})
	if err == nil {
		return val, nil
	}

	var zero T
	if ctx.Err() == nil && (resilience.IsTimeout(err) || errors.Is(err, resilience.ErrCircuitOpen)) {
		zap.L().Warn("pipeline: lookup unavailable, continuing without it",
			zap.String("source", source),
			zap.Int64("lot_id", lotID),
			zap.Error(err),
		)
		return zero, nil
	}
	return zero, err
}

// skippable reports whether err is an expected per-lot outcome rather than a
// failure.
func skippable(err error) bool {
	var invalid *extract.InvalidInputError
	var insufficient *predict.InsufficientDataError
	return errors.As(err, &invalid) || errors.As(err, &insufficient)
}
