// Package querysql compiles queryir queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/icm/internal/queryir"
)

// TiebreakColumn is appended to every ORDER BY so results are totally
// ordered. Every table compiled here must have it.
const TiebreakColumn = "id"

// SQLCompiler compiles queryir to SQLite SQL. Values are never
// interpolated; every literal becomes a ? parameter.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile validates q and converts it to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	columns := "*"
	if len(q.Columns) > 0 {
		columns = strings.Join(q.Columns, ", ")
	}

	var where string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where = " WHERE " + filterSQL
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		columns, q.From, where, stableOrderKey(q.OrderBy))
	return sql, params, nil
}

// stableOrderKey renders the ORDER BY list with the tiebreaker last.
// SQLite expects the collation before the direction.
func stableOrderKey(orderBy []string) string {
	parts := make([]string, 0, len(orderBy)+1)
	for _, col := range orderBy {
		if col == TiebreakColumn {
			continue
		}
		parts = append(parts, col+" COLLATE BINARY ASC")
	}
	parts = append(parts, TiebreakColumn+" ASC")
	return strings.Join(parts, ", ")
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return pred.Field + " = ?", []any{pred.Value}, nil
	case *queryir.Equals:
		return c.compilePredicate(*pred)
	case queryir.In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Values)), ", ")
		return fmt.Sprintf("%s IN (%s)", pred.Field, marks), append([]any{}, pred.Values...), nil
	case *queryir.In:
		return c.compilePredicate(*pred)
	case queryir.Between:
		return pred.Field + " BETWEEN ? AND ?", []any{pred.Low, pred.High}, nil
	case *queryir.Between:
		return c.compilePredicate(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	case queryir.Or:
		return c.compileOr(pred)
	case *queryir.Or:
		return c.compileOr(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, ps, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if grouped(pred) {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}

func (c *SQLCompiler) compileOr(or queryir.Or) (string, []any, error) {
	if len(or.Predicates) == 0 {
		return "1 = 0", nil, nil
	}

	parts := make([]string, 0, len(or.Predicates))
	var params []any
	for _, pred := range or.Predicates {
		sql, ps, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if grouped(pred) {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", params, nil
}

// grouped reports whether p compiles to a compound that needs parentheses
// inside another compound.
func grouped(p queryir.Predicate) bool {
	switch p.(type) {
	case queryir.And, *queryir.And:
		return true
	}
	return false
}
