// Package datastore is the small table-oriented store the server keeps its
// records in. Callers address tables by name and filter rows with typed
// conditions instead of writing SQL.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

type Operator string

const (
	OpEq   Operator = "="
	OpGt   Operator = ">"
	OpLt   Operator = "<"
	OpGte  Operator = ">="
	OpLte  Operator = "<="
	OpNeq  Operator = "!="
	OpLike Operator = "LIKE"
)

// Logic joins a condition to the one before it. It is ignored on the first
// condition of a list.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

type Condition struct {
	Key   string
	Op    Operator
	Value any
	Logic Logic
}

// Eq is shorthand for the most common condition.
func Eq(key string, value any) Condition {
	return Condition{Key: key, Op: OpEq, Value: value}
}

// Row maps column names to values.
type Row map[string]any

type Store interface {
	Insert(ctx context.Context, table string, rows ...Row) (int64, error)
	// Select returns every column when columns is empty.
	Select(ctx context.Context, table string, columns []string, conds ...Condition) ([]Row, error)
	Update(ctx context.Context, table string, values Row, conds ...Condition) (int64, error)
	Delete(ctx context.Context, table string, conds ...Condition) (int64, error)
	// WithTx runs fn against a Store bound to one transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidOperator   = errors.New("invalid operator")
	ErrNoValues          = errors.New("no values given")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpGt, OpLt, OpGte, OpLte, OpNeq, OpLike:
		return true
	}
	return false
}

func (l Logic) sql() (string, error) {
	switch l {
	case "", And:
		return string(And), nil
	case Or:
		return string(Or), nil
	}
	return "", fmt.Errorf("%w: logic %q", ErrInvalidOperator, l)
}
