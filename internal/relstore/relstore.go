// Package relstore is the table-oriented client the dashboard components talk to.
// Rows are JSON-shaped maps; joined relations are nested under their alias the
// same way a PostgREST select renders them.
package relstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when an update or delete targets a missing row.
var ErrNotFound = errors.New("row not found")

// UniqueViolation is returned when a write collides with a unique constraint. Constraint follows
// the Postgres default naming, table_column_key.
type UniqueViolation struct {
	Table      string
	Constraint string
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("duplicate key value violates unique constraint %q", e.Constraint)
}

// Row is one record keyed by column name. Joined relations are nested Rows.
type Row map[string]any

// Join embeds the related row of another table under Alias.
type Join struct {
	Alias      string
	Table      string
	LocalKey   string // column on the parent row
	ForeignKey string // column on Table, "id" when empty
	Columns    []string
	Inner      bool // drop parent rows that have no match
	Joins      []Join
}

// Filter is an equality predicate on a base-table column.
type Filter struct {
	Column string
	Value  any
}

// Order sorts by a base-table column.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a read against one table.
type Query struct {
	Table   string
	Columns []string // empty selects every column
	Joins   []Join
	Filters []Filter
	Order   []Order
	Limit   int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(column string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Column: column, Value: value})
	return q
}

// Client executes queries against named tables.
type Client interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, values Row) (Row, error)
	Update(ctx context.Context, table, id string, values Row) (Row, error)
	Count(ctx context.Context, table string) (int, error)
	Delete(ctx context.Context, table, id string) error
}

// Decode maps a row onto a tagged record type through its JSON tags.
func Decode(row Row, dst any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// DecodeAll decodes every row into T. A nil or empty input yields an empty slice.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var rec T
		if err := Decode(row, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// String returns the string value of column, or "" when absent or not a string.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func (j Join) foreignKey() string {
	if j.ForeignKey == "" {
		return "id"
	}
	return j.ForeignKey
}

func validateQuery(q Query) error {
	if err := checkIdent(q.Table); err != nil {
		return err
	}
	for _, c := range q.Columns {
		if err := checkIdent(c); err != nil {
			return err
		}
	}
	for _, f := range q.Filters {
		if err := checkIdent(f.Column); err != nil {
			return err
		}
	}
	for _, o := range q.Order {
		if err := checkIdent(o.Column); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return validateJoins(q.Joins)
}

func validateJoins(joins []Join) error {
	for _, j := range joins {
		for _, name := range append([]string{j.Alias, j.Table, j.LocalKey, j.foreignKey()}, j.Columns...) {
			if err := checkIdent(name); err != nil {
				return err
			}
		}
		if err := validateJoins(j.Joins); err != nil {
			return err
		}
	}
	return nil
}
