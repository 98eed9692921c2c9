package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// codeUniqueViolation is the SQLSTATE for unique_violation.
const codeUniqueViolation = "23505"

// Postgres executes queries through database/sql with the pgx driver.
// Every row is rendered server side with to_jsonb so nested joins come back
// in the same shape as the in-memory backend.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a client over an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Select runs q and returns the decoded rows.
func (p *Postgres) Select(ctx context.Context, q Query) ([]Row, error) {
	query, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Row{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		row := Row{}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", q.Table, err)
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// Insert writes a row and returns it as stored, including generated columns.
func (p *Postgres) Insert(ctx context.Context, table string, values Row) (Row, error) {
	query, args, err := buildInsert(table, values)
	if err != nil {
		return nil, err
	}
	return p.returning(ctx, table, query, args)
}

// Update changes the given columns of the row with primary key id.
func (p *Postgres) Update(ctx context.Context, table, id string, values Row) (Row, error) {
	query, args, err := buildUpdate(table, id, values)
	if err != nil {
		return nil, err
	}
	return p.returning(ctx, table, query, args)
}

// Count returns the exact number of rows in table.
func (p *Postgres) Count(ctx context.Context, table string) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var n int
	err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n)
	return n, err
}

// Delete removes the row with primary key id.
func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) returning(ctx context.Context, table, query string, args []any) (Row, error) {
	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", table, ErrNotFound)
		}
		return nil, translate(table, err)
	}
	row := Row{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, err)
	}
	return row, nil
}

// translate maps driver errors the callers branch on.
func translate(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		if pgErr.TableName != "" {
			table = pgErr.TableName
		}
		return &UniqueViolation{Table: table, Constraint: pgErr.ConstraintName}
	}
	return err
}

type selectBuilder struct {
	from  []string
	alias int
}

func (b *selectBuilder) next() string {
	a := "t" + strconv.Itoa(b.alias)
	b.alias++
	return a
}

// object renders the jsonb expression for one table alias plus its joins,
// appending the join clauses it needs to b.from.
func (b *selectBuilder) object(alias string, columns []string, joins []Join) string {
	var expr string
	if len(columns) == 0 {
		expr = "to_jsonb(" + alias + ")"
	} else {
		parts := make([]string, 0, len(columns))
		for _, c := range columns {
			parts = append(parts, "'"+c+"', "+alias+"."+c)
		}
		expr = "jsonb_build_object(" + strings.Join(parts, ", ") + ")"
	}
	for _, j := range joins {
		child := b.next()
		kind := "LEFT JOIN"
		if j.Inner {
			kind = "INNER JOIN"
		}
		fk := j.foreignKey()
		b.from = append(b.from, fmt.Sprintf("%s %s %s ON %s.%s = %s.%s", kind, j.Table, child, child, fk, alias, j.LocalKey))
		childExpr := b.object(child, j.Columns, j.Joins)
		expr += fmt.Sprintf(" || jsonb_build_object('%s', CASE WHEN %s.%s IS NULL THEN NULL ELSE %s END)", j.Alias, child, fk, childExpr)
	}
	return expr
}

func buildSelect(q Query) (string, []any, error) {
	if err := validateQuery(q); err != nil {
		return "", nil, err
	}
	b := &selectBuilder{}
	root := b.next()
	expr := b.object(root, q.Columns, q.Joins)

	var sb strings.Builder
	sb.WriteString("SELECT " + expr + " FROM " + q.Table + " " + root)
	for _, f := range b.from {
		sb.WriteString(" " + f)
	}

	args := []any{}
	if len(q.Filters) > 0 {
		clauses := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			args = append(args, f.Value)
			clauses = append(clauses, root+"."+f.Column+" = $"+strconv.Itoa(len(args)))
		}
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, root+"."+o.Column+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return sb.String(), args, nil
}

func sortedColumns(values Row) ([]string, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

func buildInsert(table string, values Row) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "INSERT INTO " + table + " AS t DEFAULT VALUES RETURNING to_jsonb(t)", nil, nil
	}
	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for i, c := range cols {
		args = append(args, values[c])
		marks = append(marks, "$"+strconv.Itoa(i+1))
	}
	query := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

func buildUpdate(table, id string, values Row) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, errors.New("update without columns")
	}
	args := make([]any, 0, len(cols)+1)
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		args = append(args, values[c])
		sets = append(sets, c+" = $"+strconv.Itoa(i+1))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s AS t SET %s WHERE t.id = $%d RETURNING to_jsonb(t)",
		table, strings.Join(sets, ", "), len(args))
	return query, args, nil
}
