package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var metalsCfg = UpsertConfig{
	Table:        "metals_prices",
	Columns:      []string{"date", "gold", "silver"},
	ConflictKeys: []string{"date"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, metalsCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_metals_prices"}, metalsCfg.Columns).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "metals_prices" .* ON CONFLICT \("date"\) DO UPDATE SET "gold" = EXCLUDED."gold", "silver" = EXCLUDED."silver"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"2024-01-01", 5000.0, 60.0}, {"2024-01-02", 5010.0, 61.0}}
	n, err := BulkUpsert(context.Background(), mock, metalsCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_metals_prices"}, metalsCfg.Columns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, metalsCfg, [][]any{{"2024-01-01", 1.0, 2.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupSQL(t *testing.T) {
	got := dedupSQL(`"_tmp"`, []string{"auction_id", "lot_number"})
	assert.Equal(t,
		`DELETE FROM "_tmp" a USING "_tmp" b WHERE a.ctid < b.ctid AND a."auction_id" IS NOT DISTINCT FROM b."auction_id" AND a."lot_number" IS NOT DISTINCT FROM b."lot_number"`,
		got)
}

func TestSetClause_ExplicitColumns(t *testing.T) {
	cfg := UpsertConfig{Columns: []string{"id", "a", "b"}, ConflictKeys: []string{"id"}, UpdateCols: []string{"b"}}
	assert.Equal(t, `"b" = EXCLUDED."b"`, setClause(cfg))
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"public"."auction_lots"`, sanitizeTable("public.auction_lots"))
}
