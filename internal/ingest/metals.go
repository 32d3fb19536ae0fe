package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/fetcher"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/store"
)

// ParseMetalsRecord converts a row with a date column and per-gram price
// columns. Columns may be named gold/gold_price/au and so on.
func ParseMetalsRecord(rec fetcher.Record) (*model.MetalsPriceObservation, error) {
	day, err := ParseDate(rec.Get("date"))
	if err != nil {
		return nil, err
	}
	obs := &model.MetalsPriceObservation{Date: model.Day(day)}
	for _, col := range []struct {
		dst     **float64
		aliases []string
	}{
		{&obs.Gold, []string{"gold", "gold_price", "au"}},
		{&obs.Silver, []string{"silver", "silver_price", "ag"}},
		{&obs.Platinum, []string{"platinum", "platinum_price", "pt"}},
		{&obs.Palladium, []string{"palladium", "palladium_price", "pd"}},
		{&obs.USDRate, []string{"usd_rate", "usd"}},
	} {
		v, err := ParseAmount(rec.Get(col.aliases...))
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", col.aliases[0])
		}
		*col.dst = v
	}
	return obs, nil
}

// MetalsResult counts the rows of a metals import.
type MetalsResult struct {
	Rows     int   `json:"rows"`
	Imported int64 `json:"imported"`
	Rejected int   `json:"rejected"`
}

// ImportMetalsFile loads a .csv or .xlsx file of daily prices.
func ImportMetalsFile(ctx context.Context, sink store.MetalsSink, path string, r io.Reader) (*MetalsResult, error) {
	var records []fetcher.Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		recs, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read metals xlsx")
		}
		records = recs
	case ".csv", ".txt":
		recCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{})
		for rec := range recCh {
			records = append(records, rec)
		}
		if err := <-errCh; err != nil {
			return nil, eris.Wrap(err, "ingest: read metals csv")
		}
	default:
		return nil, eris.Errorf("ingest: unsupported metals file type %q", filepath.Ext(path))
	}

	res := &MetalsResult{Rows: len(records)}
	obs := make([]model.MetalsPriceObservation, 0, len(records))
	for _, rec := range records {
		o, err := ParseMetalsRecord(rec)
		if err != nil {
			res.Rejected++
			zap.L().Warn("ingest: rejecting metals row", zap.Int("line", rec.Line), zap.Error(err))
			continue
		}
		obs = append(obs, *o)
	}
	if len(obs) == 0 {
		return res, nil
	}

	n, err := sink.UpsertMetalsPrices(ctx, obs)
	if err != nil {
		return res, eris.Wrap(err, "ingest: upsert metals prices")
	}
	res.Imported = n
	return res, nil
}

// ObservationSource returns metals observations for a date range.
type ObservationSource interface {
	Observations(ctx context.Context, from, to time.Time) ([]model.MetalsPriceObservation, error)
}

// SyncMetals pulls [from, to] from src in windows of chunkDays and upserts
// each window as it arrives, so an interrupted sync keeps its progress.
func SyncMetals(ctx context.Context, src ObservationSource, sink store.MetalsSink, from, to time.Time, chunkDays int) (int64, error) {
	if to.Before(from) {
		return 0, eris.Errorf("ingest: sync range ends before it starts (%s > %s)",
			from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if chunkDays <= 0 {
		chunkDays = 90
	}

	var total int64
	for start := model.Day(from); !start.After(to); start = start.AddDate(0, 0, chunkDays) {
		end := start.AddDate(0, 0, chunkDays-1)
		if end.After(to) {
			end = model.Day(to)
		}

		obs, err := src.Observations(ctx, start, end)
		if err != nil {
			return total, eris.Wrapf(err, "ingest: fetch %s..%s",
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		if len(obs) > 0 {
			n, err := sink.UpsertMetalsPrices(ctx, obs)
			if err != nil {
				return total, eris.Wrap(err, "ingest: upsert metals prices")
			}
			total += n
		}
		zap.L().Info("ingest: metals window synced",
			zap.String("from", start.Format(time.DateOnly)),
			zap.String("to", end.Format(time.DateOnly)),
			zap.Int("observations", len(obs)),
		)
	}
	return total, nil
}
