// Package db provides the database backends (SQLite, PostgreSQL, MySQL and
// SQL Server), the SQL dialect helpers shared by the translator and the
// provisioner, schema extraction, and the registry of named databases.
package db

import (
	"context"

	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// NoInsertID is reported as the last insert id by engines that do not return
// generated identifiers.
const NoInsertID int64 = -1

// Result describes the outcome of a statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// ColumnInfo is the metadata a backend reports for a result column.
// DatabaseType is the engine's type name and may be empty for expressions.
type ColumnInfo struct {
	Name         string
	DatabaseType string
}

// Cursor iterates a result set one row at a time. Close releases the
// underlying connection and must be called even when iteration stops early.
type Cursor interface {
	Columns() []ColumnInfo
	Next() bool
	// Values returns the current row as driver-native values.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Execer runs statements that do not return rows.
type Execer interface {
	Exec(ctx context.Context, query string, args ...value.Value) (Result, error)
}

// Tx is a transaction on a single connection.
type Tx interface {
	Execer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is an open connection pool to one database. Errors returned by its
// methods are classified with dberr kinds; the driver message is preserved.
type Backend interface {
	Execer
	Query(ctx context.Context, query string, args ...value.Value) (Cursor, error)
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Ping(ctx context.Context) error
	// Tables lists the base tables of the database in name order.
	Tables(ctx context.Context) ([]string, error)
	// ExtractSchema reads table and index definitions from the catalog. An
	// empty list extracts every table.
	ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error)
	Close() error
}
