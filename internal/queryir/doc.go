// Package queryir is a small, backend-neutral representation of the
// filters the engine applies to stored transactions.
//
// Query and Predicate are sealed: only types in this package implement
// them, so backends can switch over them exhaustively.
//
//	[source.Query] -> [queryir.Select] -> [querysql] -> SQLite
//
// Rules every backend relies on:
//   - identifiers (tables, columns) are plain names and are validated before
//     compilation; literal values are always passed as parameters
//   - And with no predicates is always true
//   - In with no values never matches
//   - Between is inclusive on both ends
//   - results are ordered by OrderBy, and backends append a tiebreaker so
//     the order is total
package queryir
