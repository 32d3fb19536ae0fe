package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/fetcher"
	"github.com/numisdata/lotvalue/internal/model"
)

// LotSink stores lots keyed by auction and lot number.
type LotSink interface {
	UpsertLots(ctx context.Context, lots []model.Lot) (int64, error)
}

// DefaultChunkSize is the number of rows written per upsert.
const DefaultChunkSize = 500

// SalesResult counts the rows of a sales import.
type SalesResult struct {
	Rows      int   `json:"rows"`
	Imported  int64 `json:"imported"`
	Rejected  int   `json:"rejected"`
	Extracted int   `json:"extracted"`
}

// SalesImporter reads auction results from CSV, extracts attributes from
// each description and upserts the lots.
type SalesImporter struct {
	sink      LotSink
	extractor *extract.Extractor
	chunkSize int
}

// NewSalesImporter creates a SalesImporter. chunkSize <= 0 selects
// DefaultChunkSize.
func NewSalesImporter(sink LotSink, ex *extract.Extractor, chunkSize int) *SalesImporter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &SalesImporter{sink: sink, extractor: ex, chunkSize: chunkSize}
}

// ImportCSV reads rows with columns auction_id (or auction_number),
// lot_number, description (or coin_description), winning_bid and sale_date
// (or auction_end_date). Rows missing a key or with an unparseable bid or
// date are rejected and logged; the import continues.
func (im *SalesImporter) ImportCSV(ctx context.Context, r io.Reader) (*SalesResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{LazyQuotes: true})

	res := &SalesResult{}
	chunk := make([]model.Lot, 0, im.chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := im.sink.UpsertLots(ctx, chunk)
		if err != nil {
			return eris.Wrapf(err, "ingest: upsert %d lots", len(chunk))
		}
		res.Imported += n
		chunk = chunk[:0]
		return nil
	}

	for rec := range recCh {
		res.Rows++
		lot, err := im.lotFromRecord(rec)
		if err != nil {
			res.Rejected++
			zap.L().Warn("ingest: rejecting sales row", zap.Int("line", rec.Line), zap.Error(err))
			continue
		}
		if lot.Attributes != nil {
			res.Extracted++
		}
		chunk = append(chunk, *lot)
		if len(chunk) >= im.chunkSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return res, eris.Wrap(err, "ingest: read sales csv")
	}
	if err := flush(); err != nil {
		return res, err
	}

	zap.L().Info("ingest: sales import complete",
		zap.Int("rows", res.Rows),
		zap.Int64("imported", res.Imported),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

func (im *SalesImporter) lotFromRecord(rec fetcher.Record) (*model.Lot, error) {
	lot := &model.Lot{
		AuctionID:   rec.Get("auction_id", "auction_number"),
		LotNumber:   rec.Get("lot_number"),
		Description: rec.Get("description", "coin_description"),
	}
	if lot.AuctionID == "" || lot.LotNumber == "" {
		return nil, eris.New("missing auction or lot number")
	}

	bid, err := ParseAmount(rec.Get("winning_bid", "price"))
	if err != nil {
		return nil, err
	}
	lot.WinningBid = bid

	if raw := rec.Get("sale_date", "auction_end_date"); raw != "" {
		if lot.SaleDate, err = ParseDate(raw); err != nil {
			return nil, err
		}
	}

	attrs, err := im.extractor.Extract(lot.Description)
	var invalid *extract.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		// Kept without attributes; it is never a comparable.
	case err != nil:
		return nil, err
	default:
		lot.Attributes = attrs
		lot.AttributesHash = model.DescriptionHash(lot.Description)
	}
	return lot, nil
}
