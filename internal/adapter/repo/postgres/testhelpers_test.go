package postgres_test

import (
	"context"
	"errors"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed set of scan funcs, one per row.
type rowsStub struct {
	rows []func(dest ...any) error
	idx  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error  { return r.rows[r.idx-1](dest...) }
func (r *rowsStub) Values() ([]any, error)  { return nil, nil }
func (r *rowsStub) RawValues() [][]byte     { return nil }
func (r *rowsStub) Conn() *pgx.Conn         { return nil }

// poolStub implements postgres.PgxPool for tests.
// It records the last SQL and args and stubs Exec/QueryRow/Query behavior.
// Defined in a shared helper so multiple *_test.go files can reuse it.
type poolStub struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      rowStub
	rows     *rowsStub
	queryErr error

	lastSQL  string
	lastArgs []any
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.lastSQL, p.lastArgs = sql, args
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL, p.lastArgs = sql, args
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.lastSQL, p.lastArgs = sql, args
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

// assign copies vals into scan destinations by pointer.
func assign(dest []any, vals ...any) error {
	if len(dest) != len(vals) {
		return errors.New("scan destination count mismatch")
	}
	for i, v := range vals {
		dv := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		dv.Set(reflect.ValueOf(v))
	}
	return nil
}
