package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/icm/internal/record"
)

// MemoryClient serves records held in memory. It is safe for concurrent
// use.
type MemoryClient struct {
	mu      sync.RWMutex
	records map[Type][]record.Record
	err     error
	calls   int
}

// NewMemoryClient returns an empty in-memory source.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{records: make(map[Type][]record.Record)}
}

// Add appends records of type t.
func (c *MemoryClient) Add(t Type, recs ...record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range recs {
		c.records[t] = append(c.records[t], r.Clone())
	}
}

// FailWith makes every subsequent Fetch return err wrapped in
// ErrSourceUnavailable. A nil err clears the failure.
func (c *MemoryClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls returns how many times Fetch has been called.
func (c *MemoryClient) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// Fetch returns clones of the stored records that match q, in insertion
// order.
func (c *MemoryClient) Fetch(ctx context.Context, q Query) ([]record.Record, error) {
	c.mu.Lock()
	c.calls++
	failure := c.err
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, failure)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]record.Record, 0)
	for _, r := range c.records[q.Type] {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// RecordsFile is the on-disk fixture format: records grouped by type.
//
//	SalesOrders:
//	  - {SalesOrderID: SO-1, SalesRep: alice, OrderDate: 2024-01-15, NetValue: 1000}
type RecordsFile map[Type][]record.Record

// LoadRecordsFile reads a JSON or YAML records file.
func LoadRecordsFile(path string) (RecordsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}
	return ParseRecords(data, strings.ToLower(filepath.Ext(path)) == ".json")
}

// ParseRecords decodes a records document. Unknown transaction types are
// rejected.
func ParseRecords(data []byte, isJSON bool) (RecordsFile, error) {
	var f RecordsFile
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for t := range f {
		if !t.Known() {
			return nil, fmt.Errorf("decode records: unknown transaction type %q", t)
		}
	}
	return f, nil
}

// NewMemoryClientFromFile loads a records file into a MemoryClient.
func NewMemoryClientFromFile(path string) (*MemoryClient, error) {
	f, err := LoadRecordsFile(path)
	if err != nil {
		return nil, err
	}
	c := NewMemoryClient()
	for t, recs := range f {
		c.Add(t, recs...)
	}
	return c, nil
}
