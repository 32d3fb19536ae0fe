// Package store persists lots, metals prices, predictions and DLQ entries in
// Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// LotFilter narrows lot listings. Results are ordered by id.
type LotFilter struct {
	AuctionID string
	AfterID   int64
	Limit     int
	// IDs restricts the listing to specific lots.
	IDs []int64
}

// PredictionFilter narrows prediction listings.
type PredictionFilter struct {
	AuctionID string
	Limit     int
}

// SalesSource answers comparable-sales queries.
type SalesSource = comparable.SalesSource

// MetalsSource returns the observation on or before a date.
type MetalsSource interface {
	PriceAt(ctx context.Context, date time.Time) (*model.MetalsPriceObservation, error)
}

// MetalsSink stores metals observations, one per date.
type MetalsSink interface {
	UpsertMetalsPrices(ctx context.Context, obs []model.MetalsPriceObservation) (int64, error)
}

// PredictionSink stores predictions keyed by lot id.
type PredictionSink interface {
	UpsertPrediction(ctx context.Context, p *model.PricePrediction) error
}

// LotSource reads and updates auction lots.
type LotSource interface {
	GetLot(ctx context.Context, id int64) (*model.Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]model.Lot, error)
	UpdateLotAttributes(ctx context.Context, id int64, attrs *model.LotAttributes, hash string) error
}

// DLQ stores lots whose prediction failed unexpectedly.
type DLQ interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)
}

// Store is the full persistence interface.
type Store interface {
	SalesSource
	MetalsSource
	MetalsSink
	PredictionSink
	LotSource
	DLQ

	// UpsertLots inserts or replaces lots keyed by (auction_id, lot_number).
	UpsertLots(ctx context.Context, lots []model.Lot) (int64, error)
	GetPrediction(ctx context.Context, lotID int64) (*model.PricePrediction, error)
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PricePrediction, error)
	// ListOutcomes returns predictions for sold lots alongside their winning bids.
	ListOutcomes(ctx context.Context, auctionID string) ([]model.PredictionOutcome, error)

	Migrate(ctx context.Context) error
	Close() error
}

const dateLayout = time.DateOnly

func dateString(t time.Time) string {
	return model.Day(t).Format(dateLayout)
}

// lotKey returns the indexed comparable columns for a lot's attributes.
func lotKey(a *model.LotAttributes) (denomination, metal string, year *int, letters, condition string) {
	if a == nil {
		return "", "", nil, "", ""
	}
	return a.Denomination, string(a.Metal), a.Year, a.Letters, a.Condition
}
