package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/db"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgPriceAt = `SELECT date, gold, silver, platinum, palladium, usd_rate
		FROM metals_prices WHERE date <= $1 ORDER BY date DESC LIMIT 1`

	pgUpsertPrediction = `INSERT INTO lot_price_predictions
		(lot_id, predicted_price, confidence, method, sample_size, match_level, metal_value, numismatic_premium, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (lot_id) DO UPDATE SET
		  predicted_price = EXCLUDED.predicted_price,
		  confidence = EXCLUDED.confidence,
		  method = EXCLUDED.method,
		  sample_size = EXCLUDED.sample_size,
		  match_level = EXCLUDED.match_level,
		  metal_value = EXCLUDED.metal_value,
		  numismatic_premium = EXCLUDED.numismatic_premium,
		  updated_at = EXCLUDED.updated_at`

	pgGetPrediction = `SELECT lot_id, predicted_price, confidence, method, sample_size, match_level, metal_value, numismatic_premium, created_at
		FROM lot_price_predictions WHERE lot_id = $1`

	pgLotColumns = `id, auction_id, lot_number, description, winning_bid, sale_date, attributes, attributes_hash`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(10), int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool for bulk operations.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS auction_lots (
	id              BIGSERIAL PRIMARY KEY,
	auction_id      TEXT NOT NULL,
	lot_number      TEXT NOT NULL,
	description     TEXT NOT NULL,
	winning_bid     NUMERIC(14,2),
	sale_date       DATE,
	attributes      JSONB,
	attributes_hash TEXT,
	denomination    TEXT NOT NULL DEFAULT '',
	metal           TEXT NOT NULL DEFAULT '',
	year            INTEGER,
	letters         TEXT NOT NULL DEFAULT '',
	condition       TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (auction_id, lot_number)
);

CREATE INDEX IF NOT EXISTS idx_auction_lots_key ON auction_lots(denomination, metal, year, letters, condition);
CREATE INDEX IF NOT EXISTS idx_auction_lots_auction ON auction_lots(auction_id);
CREATE INDEX IF NOT EXISTS idx_auction_lots_sale_date ON auction_lots(sale_date DESC);

CREATE TABLE IF NOT EXISTS metals_prices (
	date       DATE PRIMARY KEY,
	gold       NUMERIC(14,4),
	silver     NUMERIC(14,4),
	platinum   NUMERIC(14,4),
	palladium  NUMERIC(14,4),
	usd_rate   NUMERIC(14,4),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lot_price_predictions (
	lot_id             BIGINT PRIMARY KEY REFERENCES auction_lots(id) ON DELETE CASCADE,
	predicted_price    NUMERIC(14,2) NOT NULL,
	confidence         NUMERIC(5,2) NOT NULL,
	method             TEXT NOT NULL,
	sample_size        INTEGER NOT NULL DEFAULT 0,
	match_level        TEXT NOT NULL DEFAULT '',
	metal_value        NUMERIC(14,2),
	numismatic_premium NUMERIC(14,2),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lot_id         BIGINT NOT NULL,
	run_id         TEXT,
	stage          TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Lots

var lotUpsertCfg = db.UpsertConfig{
	Table: "auction_lots",
	Columns: []string{
		"auction_id", "lot_number", "description", "winning_bid", "sale_date",
		"attributes", "attributes_hash", "denomination", "metal", "year", "letters", "condition",
	},
	ConflictKeys: []string{"auction_id", "lot_number"},
}

func (s *PostgresStore) UpsertLots(ctx context.Context, lots []model.Lot) (int64, error) {
	rows := make([][]any, 0, len(lots))
	for _, l := range lots {
		attrs, err := marshalAttributes(l.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: lot %s/%s", l.AuctionID, l.LotNumber)
		}
		denom, metal, year, letters, cond := lotKey(l.Attributes)
		rows = append(rows, []any{
			l.AuctionID, l.LotNumber, l.Description, l.WinningBid, nullableDate(l.SaleDate),
			attrs, nullableString(l.AttributesHash), denom, metal, year, letters, cond,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, lotUpsertCfg, rows)
	return n, eris.Wrap(err, "postgres: upsert lots")
}

func (s *PostgresStore) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgLotColumns+` FROM auction_lots WHERE id = $1`, id)
	l, err := scanPgLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get lot %d", id)
	}
	return l, eris.Wrapf(err, "postgres: get lot %d", id)
}

func (s *PostgresStore) ListLots(ctx context.Context, filter LotFilter) ([]model.Lot, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AuctionID != "" {
		where = append(where, "auction_id = "+arg(filter.AuctionID))
	}
	if filter.AfterID > 0 {
		where = append(where, "id > "+arg(filter.AfterID))
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id = ANY("+arg(filter.IDs)+")")
	}

	query := `SELECT ` + pgLotColumns + ` FROM auction_lots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lots")
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		l, err := scanPgLot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lot")
		}
		lots = append(lots, *l)
	}
	return lots, eris.Wrap(rows.Err(), "postgres: list lots iterate")
}

func (s *PostgresStore) UpdateLotAttributes(ctx context.Context, id int64, attrs *model.LotAttributes, hash string) error {
	data, err := marshalAttributes(attrs)
	if err != nil {
		return eris.Wrapf(err, "postgres: lot %d", id)
	}
	denom, metal, year, letters, cond := lotKey(attrs)
	tag, err := s.pool.Exec(ctx,
		`UPDATE auction_lots SET attributes = $1, attributes_hash = $2, denomination = $3, metal = $4,
		 year = $5, letters = $6, condition = $7, updated_at = now() WHERE id = $8`,
		data, hash, denom, metal, year, letters, cond, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lot attributes %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update lot attributes %d", id)
	}
	return nil
}

// Comparable sales

func (s *PostgresStore) FindSales(ctx context.Context, q comparable.SalesQuery) ([]model.ComparableSale, error) {
	args := []any{q.Denomination, string(q.Metal)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	query := `SELECT id, auction_id, denomination, metal, year, letters, condition,
		COALESCE(attributes->>'category', ''), winning_bid, sale_date
		FROM auction_lots
		WHERE attributes IS NOT NULL AND winning_bid > 0 AND denomination = $1 AND metal = $2`
	if q.MatchYear {
		query += " AND year IS NOT DISTINCT FROM " + arg(q.Year)
	}
	if q.MatchLetters {
		query += " AND letters = " + arg(q.Letters)
	}
	if q.MatchCondition {
		query += " AND condition = " + arg(q.Condition)
	}
	if q.Category != "" {
		c := arg(string(q.Category))
		query += " AND COALESCE(attributes->>'category', '') IN ('', " + c + ")"
	}
	if !q.Before.IsZero() {
		query += " AND sale_date < " + arg(model.Day(q.Before))
	}
	if q.ExcludeLotID != 0 {
		query += " AND id <> " + arg(q.ExcludeLotID)
	}
	query += " ORDER BY sale_date DESC, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find sales")
	}
	defer rows.Close()

	var sales []model.ComparableSale
	for rows.Next() {
		var cs model.ComparableSale
		var metal, category string
		var saleDate *time.Time
		if err := rows.Scan(&cs.LotID, &cs.AuctionID, &cs.Denomination, &metal, &cs.Year,
			&cs.Letters, &cs.Condition, &category, &cs.WinningBid, &saleDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sale")
		}
		cs.Metal = model.Metal(metal)
		cs.Category = model.Category(category)
		if saleDate != nil {
			cs.SaleDate = *saleDate
		}
		sales = append(sales, cs)
	}
	return sales, eris.Wrap(rows.Err(), "postgres: find sales iterate")
}

// Metals prices

func (s *PostgresStore) PriceAt(ctx context.Context, date time.Time) (*model.MetalsPriceObservation, error) {
	var o model.MetalsPriceObservation
	err := s.pool.QueryRow(ctx, pgPriceAt, model.Day(date)).
		Scan(&o.Date, &o.Gold, &o.Silver, &o.Platinum, &o.Palladium, &o.USDRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: price at")
	}
	return &o, nil
}

var metalsUpsertCfg = db.UpsertConfig{
	Table:        "metals_prices",
	Columns:      []string{"date", "gold", "silver", "platinum", "palladium", "usd_rate"},
	ConflictKeys: []string{"date"},
}

func (s *PostgresStore) UpsertMetalsPrices(ctx context.Context, obs []model.MetalsPriceObservation) (int64, error) {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{model.Day(o.Date), o.Gold, o.Silver, o.Platinum, o.Palladium, o.USDRate})
	}
	n, err := db.BulkUpsert(ctx, s.pool, metalsUpsertCfg, rows)
	return n, eris.Wrap(err, "postgres: upsert metals prices")
}

// Predictions

func (s *PostgresStore) UpsertPrediction(ctx context.Context, p *model.PricePrediction) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, pgUpsertPrediction,
		p.LotID, p.PredictedPrice, p.Confidence, string(p.Method), p.SampleSize, p.MatchLevel,
		p.MetalValue, p.NumismaticPremium, createdAt,
	)
	return eris.Wrapf(err, "postgres: upsert prediction %d", p.LotID)
}

func (s *PostgresStore) GetPrediction(ctx context.Context, lotID int64) (*model.PricePrediction, error) {
	p, err := scanPgPrediction(s.pool.QueryRow(ctx, pgGetPrediction, lotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get prediction %d", lotID)
	}
	return p, eris.Wrapf(err, "postgres: get prediction %d", lotID)
}

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PricePrediction, error) {
	query := `SELECT p.lot_id, p.predicted_price, p.confidence, p.method, p.sample_size, p.match_level,
		p.metal_value, p.numismatic_premium, p.created_at
		FROM lot_price_predictions p JOIN auction_lots l ON l.id = p.lot_id`
	var args []any
	if filter.AuctionID != "" {
		args = append(args, filter.AuctionID)
		query += " WHERE l.auction_id = $1"
	}
	query += " ORDER BY p.lot_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	var out []model.PricePrediction
	for rows.Next() {
		p, err := scanPgPrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list predictions iterate")
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, auctionID string) ([]model.PredictionOutcome, error) {
	query := `SELECT p.lot_id, l.auction_id, l.lot_number, p.predicted_price, p.confidence, p.method, l.winning_bid
		FROM lot_price_predictions p JOIN auction_lots l ON l.id = p.lot_id
		WHERE l.winning_bid > 0`
	var args []any
	if auctionID != "" {
		args = append(args, auctionID)
		query += " AND l.auction_id = $1"
	}
	query += " ORDER BY p.lot_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var out []model.PredictionOutcome
	for rows.Next() {
		var o model.PredictionOutcome
		var method string
		if err := rows.Scan(&o.LotID, &o.AuctionID, &o.LotNumber, &o.PredictedPrice, &o.Confidence, &method, &o.WinningBid); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		o.Method = model.PredictionMethod(method)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, lot_id, run_id, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, stage = $4, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		e.ID, e.LotID, e.RunID, e.Stage, e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, lot_id, run_id, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		FROM dead_letter_queue
		WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		query += fmt.Sprintf(" AND error_type = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY next_retry_at ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var runID, stage *string
		if err := rows.Scan(&e.ID, &e.LotID, &runID, &stage, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.RunID = deref(runID)
		e.Stage = deref(stage)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

// scanning helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPgLot(row scannable) (*model.Lot, error) {
	var l model.Lot
	var saleDate *time.Time
	var attrs []byte
	var hash *string
	if err := row.Scan(&l.ID, &l.AuctionID, &l.LotNumber, &l.Description, &l.WinningBid, &saleDate, &attrs, &hash); err != nil {
		return nil, err
	}
	if saleDate != nil {
		l.SaleDate = *saleDate
	}
	l.AttributesHash = deref(hash)
	a, err := unmarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}
	l.Attributes = a
	return &l, nil
}

func scanPgPrediction(row scannable) (*model.PricePrediction, error) {
	var p model.PricePrediction
	var method string
	if err := row.Scan(&p.LotID, &p.PredictedPrice, &p.Confidence, &method, &p.SampleSize, &p.MatchLevel,
		&p.MetalValue, &p.NumismaticPremium, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Method = model.PredictionMethod(method)
	return &p, nil
}

func marshalAttributes(a *model.LotAttributes) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "marshal attributes")
	}
	return data, nil
}

func unmarshalAttributes(data []byte) (*model.LotAttributes, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var a model.LotAttributes
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "unmarshal attributes")
	}
	return &a, nil
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return model.Day(t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
