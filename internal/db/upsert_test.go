package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "delegation_facts",
		Columns:      []string{"payer_id", "fact"},
		ConflictKeys: []string{"payer_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "delegation_facts",
		ConflictKeys: []string{"payer_id"},
	}, [][]any{{"payer-aetna", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "delegation_facts",
		Columns: []string{"payer_id", "fact"},
	}, [][]any{{"payer-aetna", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_FullPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"payer_id", "fact", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_delegation_facts"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_delegation_facts"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "delegation_facts"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"payer-aetna", `{"delegates_to":"lbm-evicore"}`, "2026-08-27"},
		{"payer-uhc", `{"delegates_to":"lbm-optum"}`, "2026-08-27"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "delegation_facts",
		Columns:      cols,
		ConflictKeys: []string{"payer_id"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"payer_id", "fact"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_delegation_facts"}, cols).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "delegation_facts",
		Columns:      cols,
		ConflictKeys: []string{"payer_id"},
	}, [][]any{{"payer-aetna", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"payer_id", "fact", "updated_at"})
	assert.Equal(t, `"payer_id", "fact", "updated_at"`, result)
}
