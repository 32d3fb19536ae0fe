package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/store"
)

// DefaultTTL matches the daily publication cadence of metals prices.
const DefaultTTL = 24 * time.Hour

// MetalsCache is a read-through store.MetalsSource. Cache failures are
// logged and fall through to the underlying source; misses (no
// observation) are not cached.
type MetalsCache struct {
	next   store.MetalsSource
	hashes HashStore
	ttl    time.Duration
	prefix string
}

// NewMetalsCache wraps next. A non-positive ttl selects DefaultTTL.
func NewMetalsCache(next store.MetalsSource, hashes HashStore, ttl time.Duration) *MetalsCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MetalsCache{next: next, hashes: hashes, ttl: ttl, prefix: "lotvalue:metals:"}
}

func (c *MetalsCache) key(date time.Time) string {
	return c.prefix + model.Day(date).Format(time.DateOnly)
}

// PriceAt returns the cached observation for date, loading it from the
// underlying source on a miss.
func (c *MetalsCache) PriceAt(ctx context.Context, date time.Time) (*model.MetalsPriceObservation, error) {
	key := c.key(date)

	vals, err := c.hashes.HGetAll(ctx, key)
	if err != nil {
		zap.L().Warn("cache: metals lookup failed, using source", zap.String("key", key), zap.Error(err))
	} else if len(vals) > 0 {
		obs, err := decodeObservation(vals)
		if err == nil {
			return obs, nil
		}
		zap.L().Warn("cache: discarding corrupt metals entry", zap.String("key", key), zap.Error(err))
	}

	obs, err := c.next.PriceAt(ctx, date)
	if err != nil || obs == nil {
		return obs, err
	}
	if err := c.hashes.HSetWithTTL(ctx, key, encodeObservation(obs), c.ttl); err != nil {
		zap.L().Warn("cache: metals store failed", zap.String("key", key), zap.Error(err))
	}
	return obs, nil
}

func encodeObservation(o *model.MetalsPriceObservation) map[string]string {
	fields := map[string]string{"date": o.Date.Format(time.DateOnly)}
	put := func(name string, v *float64) {
		if v != nil {
			fields[name] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	put("gold", o.Gold)
	put("silver", o.Silver)
	put("platinum", o.Platinum)
	put("palladium", o.Palladium)
	put("usd_rate", o.USDRate)
	return fields
}

func decodeObservation(vals map[string]string) (*model.MetalsPriceObservation, error) {
	raw, ok := vals["date"]
	if !ok {
		return nil, eris.New("cache: entry has no date")
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: parse date %q", raw)
	}
	o := &model.MetalsPriceObservation{Date: day}
	for name, dst := range map[string]**float64{
		"gold":      &o.Gold,
		"silver":    &o.Silver,
		"platinum":  &o.Platinum,
		"palladium": &o.Palladium,
		"usd_rate":  &o.USDRate,
	} {
		s, ok := vals[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "cache: parse %s", name)
		}
		*dst = model.Float(v)
	}
	return o, nil
}
