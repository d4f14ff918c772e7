package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/queryir"
	"github.com/roach88/icm/internal/querysql"
	"github.com/roach88/icm/internal/record"
	"github.com/roach88/icm/internal/source"
)

const transactionsTable = "transactions"

// ImportRecords upserts transaction records of type t. Each record must
// carry the type's id, participant and date fields; the import is all or
// nothing. It returns the number of records written.
func (s *Store) ImportRecords(ctx context.Context, t source.Type, recs []record.Record) (int, error) {
	if !t.Known() {
		return 0, fmt.Errorf("import records: unknown transaction type %q", t)
	}
	schema := t.Schema()

	type row struct {
		id, participant, org, date, fields string
	}
	rows := make([]row, 0, len(recs))
	for i, rec := range recs {
		id, ok := rec.String(schema.ID)
		if !ok || id == "" {
			return 0, fmt.Errorf("import records: record %d: missing %s", i, schema.ID)
		}
		participant, ok := rec.String(schema.Participant)
		if !ok {
			return 0, fmt.Errorf("import records: %s: missing %s", id, schema.Participant)
		}
		at, ok := rec.Time(schema.Date)
		if !ok {
			return 0, fmt.Errorf("import records: %s: missing or invalid %s", id, schema.Date)
		}
		org, _ := rec.String(schema.SalesOrg)
		doc, err := canonical.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("import records: %s: %w", id, err)
		}
		rows = append(rows, row{id, participant, org, at.UTC().Format(time.DateOnly), string(doc)})
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions (source_type, record_id, participant, sales_org, txn_date, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_type, record_id) DO UPDATE SET
				participant = excluded.participant,
				sales_org = excluded.sales_org,
				txn_date = excluded.txn_date,
				payload = excluded.payload
		`)
		if err != nil {
			return fmt.Errorf("prepare import: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, string(t), r.id, r.participant, r.org, r.date, r.fields); err != nil {
				return fmt.Errorf("import %s: %w", r.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import records: %w", err)
	}

	s.logger.Info("imported transaction records",
		zap.String("type", string(t)),
		zap.Int("count", len(rows)))
	return len(rows), nil
}

// Transactions returns a source.Client reading imported records.
func (s *Store) Transactions() source.Client {
	return &transactionSource{s: s, compiler: querysql.NewSQLCompiler()}
}

type transactionSource struct {
	s        *Store
	compiler *querysql.SQLCompiler
}

// TransactionQuery converts a source query to the query IR over the
// transactions table.
func TransactionQuery(q source.Query) queryir.Select {
	var participants, orgs queryir.Predicate
	if len(q.Participants) > 0 {
		participants = queryir.In{Field: "participant", Values: anySlice(q.Participants)}
	}
	if len(q.SalesOrgs) > 0 {
		orgs = queryir.In{Field: "sales_org", Values: anySlice(q.SalesOrgs)}
	}
	var recordID queryir.Predicate
	if q.RecordID != "" {
		recordID = queryir.Equals{Field: "record_id", Value: q.RecordID}
	}

	return queryir.Select{
		From:    transactionsTable,
		Columns: []string{"payload"},
		Filter: queryir.Conj(
			queryir.Equals{Field: "source_type", Value: string(q.Type)},
			queryir.Between{
				Field: "txn_date",
				Low:   q.From.UTC().Format(time.DateOnly),
				High:  q.To.UTC().Format(time.DateOnly),
			},
			queryir.Disj(participants, orgs),
			recordID,
		),
		OrderBy: []string{"txn_date", "record_id"},
	}
}

func (ts *transactionSource) Fetch(ctx context.Context, q source.Query) ([]record.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	query, params, err := ts.compiler.Compile(TransactionQuery(q))
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	rows, err := ts.s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	recs := make([]record.Record, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}
	return recs, nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
