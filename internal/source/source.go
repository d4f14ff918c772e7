// Package source retrieves transaction records for a reporting period.
//
// The engine depends only on the Client interface. Concrete clients cover a
// remote HTTP service (paged, retried, behind a circuit breaker), a SQLite
// table of imported transactions, and in-memory fixtures for tests and the
// CLI.
package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/icm/internal/record"
)

// ErrSourceUnavailable marks failures that come from the transaction source
// itself rather than from the caller's query.
var ErrSourceUnavailable = errors.New("transaction source unavailable")

// Type is a transaction type served by a source.
type Type string

const (
	SalesOrders  Type = "SalesOrders"
	Invoices     Type = "Invoices"
	PaidInvoices Type = "PaidInvoices"
)

// Schema names the fields a source type uses for the values the engine
// reads.
type Schema struct {
	ID          string
	Amount      string
	Participant string
	Date        string
	SalesOrg    string
}

var schemas = map[Type]Schema{
	SalesOrders:  {ID: "SalesOrderID", Amount: "NetValue", Participant: "SalesRep", Date: "OrderDate", SalesOrg: "SalesOrg"},
	Invoices:     {ID: "InvoiceID", Amount: "InvoiceAmount", Participant: "SalesRep", Date: "InvoiceDate", SalesOrg: "SalesOrg"},
	PaidInvoices: {ID: "InvoiceID", Amount: "PaidAmount", Participant: "SalesRep", Date: "PaymentDate", SalesOrg: "SalesOrg"},
}

// Known reports whether t is a supported transaction type.
func (t Type) Known() bool {
	_, ok := schemas[t]
	return ok
}

// Schema returns the field schema for t. Unknown types use the sales order
// schema.
func (t Type) Schema() Schema {
	if s, ok := schemas[t]; ok {
		return s
	}
	return schemas[SalesOrders]
}

// Query describes the records to fetch. From and To bound the record date
// inclusively at day granularity. Empty Participants and SalesOrgs mean
// no filter; RecordID narrows the result to a single record.
type Query struct {
	Type         Type      `json:"type"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Participants []string  `json:"participants,omitempty"`
	SalesOrgs    []string  `json:"salesOrgs,omitempty"`
	RecordID     string    `json:"recordId,omitempty"`
}

// Validate checks that the query can be sent to a source.
func (q Query) Validate() error {
	if !q.Type.Known() {
		return fmt.Errorf("unknown transaction type %q", q.Type)
	}
	if q.From.IsZero() || q.To.IsZero() {
		return errors.New("query period is required")
	}
	if q.To.Before(q.From) {
		return fmt.Errorf("query period ends (%s) before it starts (%s)",
			q.To.Format(time.DateOnly), q.From.Format(time.DateOnly))
	}
	return nil
}

// Matches reports whether r satisfies the query. Records without a
// parseable date never match.
func (q Query) Matches(r record.Record) bool {
	schema := q.Type.Schema()

	if q.RecordID != "" {
		id, _ := r.String(schema.ID)
		if id != q.RecordID {
			return false
		}
	}

	at, ok := r.Time(schema.Date)
	if !ok {
		return false
	}
	day := truncateDay(at)
	if day.Before(truncateDay(q.From)) || day.After(truncateDay(q.To)) {
		return false
	}

	// Participant and sales org filters are OR-combined: a record passes
	// when it matches either list.
	if len(q.Participants) == 0 && len(q.SalesOrgs) == 0 {
		return true
	}
	if len(q.Participants) > 0 {
		p, _ := r.String(schema.Participant)
		if slices.Contains(q.Participants, p) {
			return true
		}
	}
	if len(q.SalesOrgs) > 0 {
		org, _ := r.String(schema.SalesOrg)
		if slices.Contains(q.SalesOrgs, org) {
			return true
		}
	}
	return false
}

// Client fetches transaction records.
type Client interface {
	Fetch(ctx context.Context, q Query) ([]record.Record, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, q Query) ([]record.Record, error)

// Fetch calls f.
func (f ClientFunc) Fetch(ctx context.Context, q Query) ([]record.Record, error) {
	return f(ctx, q)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
