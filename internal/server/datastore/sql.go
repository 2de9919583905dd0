package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/volunteerhub/internal/dbx"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      dbx.DBTX
	conn    *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, conn: db, dialect: dialect}
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// DB returns the underlying pool, nil inside a transaction.
func (s *SQLStore) DB() *sql.DB {
	return s.conn
}

func (s *SQLStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// query accumulates SQL text and positional arguments.
type query struct {
	dialect Dialect
	b       strings.Builder
	args    []any
}

func (q *query) arg(v any) {
	q.args = append(q.args, v)
	q.b.WriteString(q.dialect.placeholder(len(q.args)))
}

func (q *query) where(conds []Condition) error {
	if len(conds) == 0 {
		return nil
	}
	q.b.WriteString(" WHERE ")
	for i, c := range conds {
		if err := checkIdent(c.Key); err != nil {
			return err
		}
		if !c.Op.valid() {
			return fmt.Errorf("%w: %q", ErrInvalidOperator, c.Op)
		}
		if i > 0 {
			logic, err := c.Logic.sql()
			if err != nil {
				return err
			}
			q.b.WriteString(" " + logic + " ")
		}
		q.b.WriteString(c.Key + " " + string(c.Op) + " ")
		q.arg(c.Value)
	}
	return nil
}

func sortedKeys(r Row) ([]string, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Insert writes rows in one statement. Every row must carry the columns of
// the first.
func (s *SQLStore) Insert(ctx context.Context, table string, rows ...Row) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, ErrNoValues
	}

	cols, err := sortedKeys(rows[0])
	if err != nil {
		return 0, err
	}

	q := &query{dialect: s.dialect}
	q.b.WriteString("INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES ")
	for i, r := range rows {
		if len(r) != len(cols) {
			return 0, fmt.Errorf("row %d: want %d columns, got %d", i, len(cols), len(r))
		}
		if i > 0 {
			q.b.WriteString(", ")
		}
		q.b.WriteString("(")
		for j, c := range cols {
			v, ok := r[c]
			if !ok {
				return 0, fmt.Errorf("row %d: missing column %q", i, c)
			}
			if j > 0 {
				q.b.WriteString(", ")
			}
			q.arg(v)
		}
		q.b.WriteString(")")
	}

	return s.exec(ctx, q)
}

func (s *SQLStore) Select(ctx context.Context, table string, columns []string, conds ...Condition) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	sel := "*"
	if len(columns) > 0 {
		for _, c := range columns {
			if c == "*" {
				continue
			}
			if err := checkIdent(c); err != nil {
				return nil, err
			}
		}
		sel = strings.Join(columns, ", ")
	}

	q := &query{dialect: s.dialect}
	q.b.WriteString("SELECT " + sel + " FROM " + table)
	if err := q.where(conds); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.b.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(names))
		for i, n := range names {
			if b, ok := vals[i].([]byte); ok {
				r[n] = string(b)
				continue
			}
			r[n] = vals[i]
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *SQLStore) Update(ctx context.Context, table string, values Row, conds ...Condition) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, ErrNoValues
	}

	cols, err := sortedKeys(values)
	if err != nil {
		return 0, err
	}

	q := &query{dialect: s.dialect}
	q.b.WriteString("UPDATE " + table + " SET ")
	for i, c := range cols {
		if i > 0 {
			q.b.WriteString(", ")
		}
		q.b.WriteString(c + " = ")
		q.arg(values[c])
	}
	if err := q.where(conds); err != nil {
		return 0, err
	}

	return s.exec(ctx, q)
}

func (s *SQLStore) Delete(ctx context.Context, table string, conds ...Condition) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}

	q := &query{dialect: s.dialect}
	q.b.WriteString("DELETE FROM " + table)
	if err := q.where(conds); err != nil {
		return 0, err
	}

	return s.exec(ctx, q)
}

func (s *SQLStore) exec(ctx context.Context, q *query) (int64, error) {
	res, err := s.db.ExecContext(ctx, q.b.String(), q.args...)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return res.RowsAffected()
}

// WithTx runs fn inside a transaction. Nested calls join the outer one.
func (s *SQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	if s.conn == nil {
		return fn(ctx, s)
	}
	return dbx.WithTx(ctx, s.conn, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &SQLStore{db: tx, dialect: s.dialect})
	})
}
