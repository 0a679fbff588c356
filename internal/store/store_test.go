package store

import (
	"context"
	"errors"
	"reflect"
)

// fakeRow and fakeRows give unit tests a Querier without a live
// Postgres.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(dest, r.rows[r.idx-1])
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     {}

func scanInto(dest []any, src []any) error {
	if len(dest) != len(src) {
		return errors.New("fake scan: column count mismatch")
	}
	for i := range dest {
		if err := assign(dest[i], src[i]); err != nil {
			return err
		}
	}
	return nil
}

// assign sets *dest = src via reflection, the way pgx's row scanner
// would for plain Go types (int64, string, bool, pointers, etc.).
func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errors.New("fake scan: destination must be a non-nil pointer")
	}
	if src == nil {
		dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return nil
	}
	if sv.Kind() == reflect.Ptr && !sv.IsNil() && sv.Elem().Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv.Elem())
		return nil
	}
	return errors.New("fake scan: type mismatch " + sv.Type().String() + " -> " + dv.Elem().Type().String())
}

type fakePool struct {
	execFn     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) Row
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	if f.execFn != nil {
		return f.execFn(ctx, sql, args...)
	}
	return CommandTag{}, nil
}

func (f *fakePool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeRow{}
}
