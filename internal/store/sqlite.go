package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Timestamps are stored as fixed-width UTC text so they compare lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas apply per connection; one connection keeps them in force and
	// serialises writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS auction_lots (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	auction_id      TEXT NOT NULL,
	lot_number      TEXT NOT NULL,
	description     TEXT NOT NULL,
	winning_bid     REAL,
	sale_date       TEXT,
	attributes      TEXT,
	attributes_hash TEXT,
	denomination    TEXT NOT NULL DEFAULT '',
	metal           TEXT NOT NULL DEFAULT '',
	year            INTEGER,
	letters         TEXT NOT NULL DEFAULT '',
	condition       TEXT NOT NULL DEFAULT '',
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (auction_id, lot_number)
);

CREATE INDEX IF NOT EXISTS idx_auction_lots_key ON auction_lots(denomination, metal, year, letters, condition);
CREATE INDEX IF NOT EXISTS idx_auction_lots_auction ON auction_lots(auction_id);

CREATE TABLE IF NOT EXISTS metals_prices (
	date      TEXT PRIMARY KEY,
	gold      REAL,
	silver    REAL,
	platinum  REAL,
	palladium REAL,
	usd_rate  REAL
);

CREATE TABLE IF NOT EXISTS lot_price_predictions (
	lot_id             INTEGER PRIMARY KEY REFERENCES auction_lots(id) ON DELETE CASCADE,
	predicted_price    REAL NOT NULL,
	confidence         REAL NOT NULL,
	method             TEXT NOT NULL,
	sample_size        INTEGER NOT NULL DEFAULT 0,
	match_level        TEXT NOT NULL DEFAULT '',
	metal_value        REAL,
	numismatic_premium REAL,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	lot_id         INTEGER NOT NULL,
	run_id         TEXT,
	stage          TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	last_failed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lots

const sqliteLotColumns = `id, auction_id, lot_number, description, winning_bid, sale_date, attributes, attributes_hash`

func (s *SQLiteStore) UpsertLots(ctx context.Context, lots []model.Lot) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert lots")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO auction_lots
		(auction_id, lot_number, description, winning_bid, sale_date, attributes, attributes_hash,
		 denomination, metal, year, letters, condition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (auction_id, lot_number) DO UPDATE SET
		  description = excluded.description,
		  winning_bid = excluded.winning_bid,
		  sale_date = excluded.sale_date,
		  attributes = excluded.attributes,
		  attributes_hash = excluded.attributes_hash,
		  denomination = excluded.denomination,
		  metal = excluded.metal,
		  year = excluded.year,
		  letters = excluded.letters,
		  condition = excluded.condition,
		  updated_at = datetime('now')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert lots")
	}
	defer stmt.Close() //nolint:errcheck

	var total int64
	for _, l := range lots {
		attrs, err := marshalAttributes(l.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: lot %s/%s", l.AuctionID, l.LotNumber)
		}
		denom, metal, year, letters, cond := lotKey(l.Attributes)
		res, err := stmt.ExecContext(ctx,
			l.AuctionID, l.LotNumber, l.Description, l.WinningBid, sqliteDate(l.SaleDate),
			nullableText(attrs), nullableString(l.AttributesHash), denom, metal, year, letters, cond,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert lot %s/%s", l.AuctionID, l.LotNumber)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert lots")
	}
	return total, nil
}

func (s *SQLiteStore) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLotColumns+` FROM auction_lots WHERE id = ?`, id)
	l, err := scanSQLiteLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get lot %d", id)
	}
	return l, eris.Wrapf(err, "sqlite: get lot %d", id)
}

func (s *SQLiteStore) ListLots(ctx context.Context, filter LotFilter) ([]model.Lot, error) {
	var where []string
	var args []any
	if filter.AuctionID != "" {
		where = append(where, "auction_id = ?")
		args = append(args, filter.AuctionID)
	}
	if filter.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN (?"+strings.Repeat(", ?", len(filter.IDs)-1)+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + sqliteLotColumns + ` FROM auction_lots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lots")
	}
	defer rows.Close() //nolint:errcheck

	var lots []model.Lot
	for rows.Next() {
		l, err := scanSQLiteLot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lot")
		}
		lots = append(lots, *l)
	}
	return lots, eris.Wrap(rows.Err(), "sqlite: list lots iterate")
}

func (s *SQLiteStore) UpdateLotAttributes(ctx context.Context, id int64, attrs *model.LotAttributes, hash string) error {
	data, err := marshalAttributes(attrs)
	if err != nil {
		return eris.Wrapf(err, "sqlite: lot %d", id)
	}
	denom, metal, year, letters, cond := lotKey(attrs)
	res, err := s.db.ExecContext(ctx,
		`UPDATE auction_lots SET attributes = ?, attributes_hash = ?, denomination = ?, metal = ?,
		 year = ?, letters = ?, condition = ?, updated_at = datetime('now') WHERE id = ?`,
		nullableText(data), hash, denom, metal, year, letters, cond, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lot attributes %d", id)
	}
	return checkRowsAffected(res, "lot", id)
}

// Comparable sales

func (s *SQLiteStore) FindSales(ctx context.Context, q comparable.SalesQuery) ([]model.ComparableSale, error) {
	query := `SELECT id, auction_id, denomination, metal, year, letters, condition,
		COALESCE(json_extract(attributes, '$.category'), ''), winning_bid, sale_date
		FROM auction_lots
		WHERE attributes IS NOT NULL AND winning_bid > 0 AND denomination = ? AND metal = ?`
	args := []any{q.Denomination, string(q.Metal)}
	if q.MatchYear {
		// IS compares NULL to NULL as equal.
		query += " AND year IS ?"
		args = append(args, q.Year)
	}
	if q.MatchLetters {
		query += " AND letters = ?"
		args = append(args, q.Letters)
	}
	if q.MatchCondition {
		query += " AND condition = ?"
		args = append(args, q.Condition)
	}
	if q.Category != "" {
		query += " AND COALESCE(json_extract(attributes, '$.category'), '') IN ('', ?)"
		args = append(args, string(q.Category))
	}
	if !q.Before.IsZero() {
		query += " AND sale_date < ?"
		args = append(args, dateString(q.Before))
	}
	if q.ExcludeLotID != 0 {
		query += " AND id <> ?"
		args = append(args, q.ExcludeLotID)
	}
	query += " ORDER BY sale_date DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find sales")
	}
	defer rows.Close() //nolint:errcheck

	var sales []model.ComparableSale
	for rows.Next() {
		var cs model.ComparableSale
		var metal, category string
		var saleDate sql.NullString
		if err := rows.Scan(&cs.LotID, &cs.AuctionID, &cs.Denomination, &metal, &cs.Year,
			&cs.Letters, &cs.Condition, &category, &cs.WinningBid, &saleDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sale")
		}
		cs.Metal = model.Metal(metal)
		cs.Category = model.Category(category)
		if cs.SaleDate, err = parseSQLiteDate(saleDate); err != nil {
			return nil, eris.Wrapf(err, "sqlite: sale %d", cs.LotID)
		}
		sales = append(sales, cs)
	}
	return sales, eris.Wrap(rows.Err(), "sqlite: find sales iterate")
}

// Metals prices

func (s *SQLiteStore) PriceAt(ctx context.Context, date time.Time) (*model.MetalsPriceObservation, error) {
	var o model.MetalsPriceObservation
	var day string
	err := s.db.QueryRowContext(ctx,
		`SELECT date, gold, silver, platinum, palladium, usd_rate
		 FROM metals_prices WHERE date <= ? ORDER BY date DESC LIMIT 1`,
		dateString(date),
	).Scan(&day, &o.Gold, &o.Silver, &o.Platinum, &o.Palladium, &o.USDRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: price at")
	}
	if o.Date, err = time.Parse(dateLayout, day); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse metals date %q", day)
	}
	return &o, nil
}

func (s *SQLiteStore) UpsertMetalsPrices(ctx context.Context, obs []model.MetalsPriceObservation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert metals")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, o := range obs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO metals_prices (date, gold, silver, platinum, palladium, usd_rate)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (date) DO UPDATE SET
			   gold = excluded.gold, silver = excluded.silver, platinum = excluded.platinum,
			   palladium = excluded.palladium, usd_rate = excluded.usd_rate`,
			dateString(o.Date), o.Gold, o.Silver, o.Platinum, o.Palladium, o.USDRate,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert metals %s", dateString(o.Date))
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert metals")
	}
	return total, nil
}

// Predictions

func (s *SQLiteStore) UpsertPrediction(ctx context.Context, p *model.PricePrediction) error {
	now := s.now().UTC()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lot_price_predictions
		 (lot_id, predicted_price, confidence, method, sample_size, match_level, metal_value, numismatic_premium, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (lot_id) DO UPDATE SET
		   predicted_price = excluded.predicted_price,
		   confidence = excluded.confidence,
		   method = excluded.method,
		   sample_size = excluded.sample_size,
		   match_level = excluded.match_level,
		   metal_value = excluded.metal_value,
		   numismatic_premium = excluded.numismatic_premium,
		   updated_at = excluded.updated_at`,
		p.LotID, p.PredictedPrice, p.Confidence, string(p.Method), p.SampleSize, p.MatchLevel,
		p.MetalValue, p.NumismaticPremium, createdAt.Format(timestampLayout), now.Format(timestampLayout),
	)
	return eris.Wrapf(err, "sqlite: upsert prediction %d", p.LotID)
}

const sqlitePredictionColumns = `p.lot_id, p.predicted_price, p.confidence, p.method, p.sample_size,
	p.match_level, p.metal_value, p.numismatic_premium, p.created_at`

func (s *SQLiteStore) GetPrediction(ctx context.Context, lotID int64) (*model.PricePrediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePredictionColumns+` FROM lot_price_predictions p WHERE p.lot_id = ?`, lotID)
	p, err := scanSQLitePrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get prediction %d", lotID)
	}
	return p, eris.Wrapf(err, "sqlite: get prediction %d", lotID)
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PricePrediction, error) {
	query := `SELECT ` + sqlitePredictionColumns + `
		FROM lot_price_predictions p JOIN auction_lots l ON l.id = p.lot_id`
	var args []any
	if filter.AuctionID != "" {
		query += " WHERE l.auction_id = ?"
		args = append(args, filter.AuctionID)
	}
	query += " ORDER BY p.lot_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PricePrediction
	for rows.Next() {
		p, err := scanSQLitePrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list predictions iterate")
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, auctionID string) ([]model.PredictionOutcome, error) {
	query := `SELECT p.lot_id, l.auction_id, l.lot_number, p.predicted_price, p.confidence, p.method, l.winning_bid
		FROM lot_price_predictions p JOIN auction_lots l ON l.id = p.lot_id
		WHERE l.winning_bid > 0`
	var args []any
	if auctionID != "" {
		query += " AND l.auction_id = ?"
		args = append(args, auctionID)
	}
	query += " ORDER BY p.lot_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PredictionOutcome
	for rows.Next() {
		var o model.PredictionOutcome
		var method string
		if err := rows.Scan(&o.LotID, &o.AuctionID, &o.LotNumber, &o.PredictedPrice, &o.Confidence, &method, &o.WinningBid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		o.Method = model.PredictionMethod(method)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, lot_id, run_id, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, stage = excluded.stage,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		e.ID, e.LotID, e.RunID, e.Stage, e.Error, e.ErrorType, e.RetryCount, e.MaxRetries,
		e.NextRetryAt.UTC().Format(timestampLayout),
		e.CreatedAt.UTC().Format(timestampLayout),
		e.LastFailedAt.UTC().Format(timestampLayout),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, lot_id, run_id, stage, error, error_type, retry_count, max_retries,
		next_retry_at, created_at, last_failed_at
		FROM dead_letter_queue
		WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{s.now().UTC().Format(timestampLayout)}
	if filter.ErrorType != "" {
		query += " AND error_type = ?"
		args = append(args, filter.ErrorType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY next_retry_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var runID, stage sql.NullString
		var nextRetry, created, lastFailed string
		if err := rows.Scan(&e.ID, &e.LotID, &runID, &stage, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &nextRetry, &created, &lastFailed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.RunID = runID.String
		e.Stage = stage.String
		e.NextRetryAt, _ = time.Parse(timestampLayout, nextRetry)
		e.CreatedAt, _ = time.Parse(timestampLayout, created)
		e.LastFailedAt, _ = time.Parse(timestampLayout, lastFailed)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

func scanSQLiteLot(row scannable) (*model.Lot, error) {
	var l model.Lot
	var saleDate, attrs, hash sql.NullString
	if err := row.Scan(&l.ID, &l.AuctionID, &l.LotNumber, &l.Description, &l.WinningBid, &saleDate, &attrs, &hash); err != nil {
		return nil, err
	}
	var err error
	if l.SaleDate, err = parseSQLiteDate(saleDate); err != nil {
		return nil, err
	}
	l.AttributesHash = hash.String
	if attrs.Valid {
		if l.Attributes, err = unmarshalAttributes([]byte(attrs.String)); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

func scanSQLitePrediction(row scannable) (*model.PricePrediction, error) {
	var p model.PricePrediction
	var method, created string
	if err := row.Scan(&p.LotID, &p.PredictedPrice, &p.Confidence, &method, &p.SampleSize, &p.MatchLevel,
		&p.MetalValue, &p.NumismaticPremium, &created); err != nil {
		return nil, err
	}
	p.Method = model.PredictionMethod(method)
	p.CreatedAt, _ = time.Parse(timestampLayout, created)
	return &p, nil
}

func sqliteDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return dateString(t)
}

func parseSQLiteDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s.String)
	return t, eris.Wrapf(err, "parse date %q", s.String)
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
