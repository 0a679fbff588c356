package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row and Rows are narrowed down to the handful of methods every
// repository actually calls, so that tests can satisfy them with a
// plain fake instead of the full pgx.Rows surface.
type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag is Exec's result type, re-exported from pgconn so
// callers never need to import it directly.
type CommandTag = pgconn.CommandTag

// ErrNoRows is returned by Row.Scan when a query matched no rows.
var ErrNoRows = pgx.ErrNoRows
