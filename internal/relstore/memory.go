package relstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed width so timestamps sort as strings.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Memory is an in-process backend for development and tests. Rows keep
// insertion order, which stands in for the store's natural order.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row
	unique map[string][]string
	now    func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		tables: map[string][]Row{},
		unique: map[string][]string{},
		now:    time.Now,
	}
}

// Unique declares a unique constraint on table.column.
func (m *Memory) Unique(table string, columns ...string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unique[table] = append(m.unique[table], columns...)
	return m
}

// Select evaluates q against the stored rows.
func (m *Memory) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Ordering reads the stored row because order columns need not be projected.
	type hit struct{ base, out Row }
	hits := []hit{}
	for _, row := range m.tables[q.Table] {
		if !matches(row, q.Filters) {
			continue
		}
		out, ok := m.project(row, q.Columns, q.Joins)
		if !ok {
			continue
		}
		hits = append(hits, hit{base: row, out: out})
	}
	if len(q.Order) > 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			return lessRows(hits[i].base, hits[j].base, q.Order)
		})
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	res := make([]Row, 0, len(hits))
	for _, h := range hits {
		res = append(res, h.out)
	}
	return res, nil
}

// Insert stores a copy of values, assigning id and created_at when missing.
func (m *Memory) Insert(ctx context.Context, table string, values Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row, err := normalize(values)
	if err != nil {
		return nil, err
	}
	if row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = m.now().UTC().Format(timestampLayout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(table, row, ""); err != nil {
		return nil, err
	}
	m.tables[table] = append(m.tables[table], row)
	return clone(row), nil
}

// Update merges values into the row with primary key id.
func (m *Memory) Update(ctx context.Context, table, id string, values Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	patch, err := normalize(values)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.tables[table] {
		if row.String("id") != id {
			continue
		}
		next := clone(row)
		for k, v := range patch {
			next[k] = v
		}
		next["updated_at"] = m.now().UTC().Format(timestampLayout)
		if err := m.checkUnique(table, next, id); err != nil {
			return nil, err
		}
		m.tables[table][i] = next
		return clone(next), nil
	}
	return nil, fmt.Errorf("%s: %w", table, ErrNotFound)
}

// Count returns the number of rows in table.
func (m *Memory) Count(ctx context.Context, table string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table]), nil
}

// Delete removes the row with primary key id.
func (m *Memory) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	for i, row := range rows {
		if row.String("id") == id {
			m.tables[table] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
}

func (m *Memory) checkUnique(table string, row Row, selfID string) error {
	for _, col := range m.unique[table] {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		for _, other := range m.tables[table] {
			if other.String("id") == selfID {
				continue
			}
			if equalValues(other[col], v) {
				return &UniqueViolation{Table: table, Constraint: table + "_" + col + "_key"}
			}
		}
	}
	return nil
}

// project copies the requested columns of row and resolves its joins.
// It reports false when an inner join has no match.
func (m *Memory) project(row Row, columns []string, joins []Join) (Row, bool) {
	out := Row{}
	if len(columns) == 0 {
		out = clone(row)
	} else {
		for _, c := range columns {
			out[c] = cloneValue(row[c])
		}
	}
	for _, j := range joins {
		related := m.lookup(j.Table, j.foreignKey(), row[j.LocalKey])
		if related == nil {
			if j.Inner {
				return nil, false
			}
			out[j.Alias] = nil
			continue
		}
		child, ok := m.project(related, j.Columns, j.Joins)
		if !ok {
			if j.Inner {
				return nil, false
			}
			out[j.Alias] = nil
			continue
		}
		out[j.Alias] = map[string]any(child)
	}
	return out, true
}

func (m *Memory) lookup(table, column string, value any) Row {
	if value == nil {
		return nil
	}
	for _, row := range m.tables[table] {
		if equalValues(row[column], value) {
			return row
		}
	}
	return nil
}

func lessRows(a, b Row, order []Order) bool {
	for _, o := range order {
		c := compareValues(a[o.Column], b[o.Column])
		if c == 0 {
			continue
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !equalValues(row[f.Column], f.Value) {
			return false
		}
	}
	return true
}

// normalize round-trips values through JSON so stored rows hold the same
// dynamic types a Postgres to_jsonb row would decode to.
func normalize(values Row) (Row, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	out := Row{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

func clone(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Row:
		return clone(t)
	case map[string]any:
		return map[string]any(clone(t))
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders numbers numerically and everything else by its
// string form; nil sorts after any value.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}
