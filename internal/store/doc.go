// Package store provides SQLite-backed storage for the commission engine.
//
// Tables:
//   - plans: incentive plan documents plus their lifecycle status
//   - execution_results: production results, written once per execution
//   - execution_logs: archived execution logs (see LogArchive)
//   - transactions: imported sales orders and invoices (see Transactions)
//
// Documents are stored as canonical JSON so that identical values produce
// identical bytes.
//
// # Deterministic reads
//
// Every list query ends its ORDER BY with the table's id column, so results
// are totally ordered regardless of insertion timing.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait on lock contention
//   - foreign_keys=ON
package store
