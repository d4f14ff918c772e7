package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/querysql"
	"github.com/roach88/icm/internal/record"
	"github.com/roach88/icm/internal/source"
)

func order(id, rep, org, date string, amount any) record.Record {
	return record.New(map[string]any{
		"SalesOrderID": id,
		"SalesRep":     rep,
		"SalesOrg":     org,
		"OrderDate":    date,
		"NetValue":     amount,
	})
}

func quarter() source.Query {
	return source.Query{
		Type: source.SalesOrders,
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func seedOrders(t *testing.T, s *Store) {
	t.Helper()
	n, err := s.ImportRecords(context.Background(), source.SalesOrders, []record.Record{
		order("SO-3", "bob", "DE", "2024-02-01", 300),
		order("SO-1", "alice", "US", "2024-01-15", "100.50"),
		order("SO-2", "alice", "DE", "2024-01-15", 200),
		order("SO-4", "alice", "US", "2024-04-01", 400),
		order("SO-0", "carol", "US", "2023-12-31", 50),
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func ids(t *testing.T, recs []record.Record) []string {
	t.Helper()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r.String("SalesOrderID")
	}
	return out
}

func TestTransactions_FetchPeriodInclusiveAndOrdered(t *testing.T) {
	s := createTestStore(t)
	seedOrders(t, s)

	recs, err := s.Transactions().Fetch(context.Background(), quarter())
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-1", "SO-2", "SO-3"}, ids(t, recs))

	amount, ok := recs[0].Number("NetValue")
	require.True(t, ok)
	assert.Equal(t, "100.5", amount.String(), "amount survives storage exactly")
}

func TestTransactions_Filters(t *testing.T) {
	s := createTestStore(t)
	seedOrders(t, s)
	ctx := context.Background()

	q := quarter()
	q.Participants = []string{"alice"}
	recs, err := s.Transactions().Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-1", "SO-2"}, ids(t, recs))

	q.SalesOrgs = []string{"DE"}
	recs, err = s.Transactions().Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-1", "SO-2", "SO-3"}, ids(t, recs), "participant and sales org filters are OR-combined")

	q = quarter()
	q.SalesOrgs = []string{"DE"}
	recs, err = s.Transactions().Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-2", "SO-3"}, ids(t, recs))

	q = quarter()
	q.RecordID = "SO-3"
	recs, err = s.Transactions().Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-3"}, ids(t, recs))
}

func TestTransactions_TypeIsolation(t *testing.T) {
	s := createTestStore(t)
	seedOrders(t, s)

	q := quarter()
	q.Type = source.Invoices
	recs, err := s.Transactions().Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestTransactions_InvalidQuery(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Transactions().Fetch(context.Background(), source.Query{Type: source.SalesOrders})
	assert.Error(t, err)
}

func TestImportRecords_Upserts(t *testing.T) {
	s := createTestStore(t)
	seedOrders(t, s)
	ctx := context.Background()

	_, err := s.ImportRecords(ctx, source.SalesOrders, []record.Record{order("SO-1", "alice", "US", "2024-01-15", 999)})
	require.NoError(t, err)

	q := quarter()
	q.RecordID = "SO-1"
	recs, err := s.Transactions().Fetch(ctx, q)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	amount, _ := recs[0].Number("NetValue")
	assert.Equal(t, "999", amount.String())
}

func TestImportRecords_RejectsIncompleteAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ImportRecords(ctx, source.SalesOrders, []record.Record{
		order("SO-1", "alice", "US", "2024-01-15", 1),
		record.New(map[string]any{"SalesOrderID": "SO-2", "SalesRep": "bob"}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OrderDate")

	recs, err := s.Transactions().Fetch(ctx, quarter())
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.ImportRecords(ctx, "Quotes", nil)
	assert.Error(t, err)
}

func TestTransactionQuery_Compiles(t *testing.T) {
	q := quarter()
	q.Participants = []string{"alice", "bob"}

	sql, params, err := querysql.NewSQLCompiler().Compile(TransactionQuery(q))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT payload FROM transactions WHERE source_type = ? AND txn_date BETWEEN ? AND ? AND participant IN (?, ?) "+
			"ORDER BY txn_date COLLATE BINARY ASC, record_id COLLATE BINARY ASC, id ASC",
		sql)
	assert.Equal(t, []any{"SalesOrders", "2024-01-01", "2024-03-31", "alice", "bob"}, params)
}

func TestTransactionQuery_ParticipantsOrSalesOrgs(t *testing.T) {
	q := quarter()
	q.Participants = []string{"alice"}
	q.SalesOrgs = []string{"DE"}
	q.RecordID = "SO-2"

	sql, params, err := querysql.NewSQLCompiler().Compile(TransactionQuery(q))
	require.NoError(t, err)
	assert.Contains(t, sql, "AND (participant IN (?) OR sales_org IN (?)) AND record_id = ?")
	assert.Equal(t, []any{"SalesOrders", "2024-01-01", "2024-03-31", "alice", "DE", "SO-2"}, params)
}
