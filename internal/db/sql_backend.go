package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// catalog reads structure from an engine's system tables.
type catalog interface {
	TableNames(ctx context.Context) ([]string, error)
	ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error)
}

// sqlBackend implements Backend on top of database/sql. The engine-specific
// parts are the dialect, the parameter encoding, the error classifier and the
// catalog reader.
type sqlBackend struct {
	db       *sql.DB
	dialect  Dialect
	bind     func(value.Value) (any, error)
	classify func(error) error
	catalog  catalog
}

func (b *sqlBackend) args(vals []value.Value) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		arg, err := b.bind(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		out[i] = arg
	}
	return out, nil
}

func (b *sqlBackend) Exec(ctx context.Context, query string, args ...value.Value) (Result, error) {
	return b.exec(ctx, b.db, query, args)
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *sqlBackend) exec(ctx context.Context, ex execContexter, query string, args []value.Value) (Result, error) {
	bound, err := b.args(args)
	if err != nil {
		return Result{}, err
	}
	res, err := ex.ExecContext(ctx, query, bound...)
	if err != nil {
		return Result{}, b.classify(err)
	}
	out := Result{LastInsertID: NoInsertID}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if b.dialect.LastInsertID {
		if id, err := res.LastInsertId(); err == nil {
			out.LastInsertID = id
		}
	}
	return out, nil
}

func (b *sqlBackend) Query(ctx context.Context, query string, args ...value.Value) (Cursor, error) {
	bound, err := b.args(args)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, bound...)
	if err != nil {
		return nil, b.classify(err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, b.classify(err)
	}
	cols := make([]ColumnInfo, len(types))
	for i, ct := range types {
		cols[i] = ColumnInfo{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	return &sqlCursor{rows: rows, cols: cols, classify: b.classify}, nil
}

func (b *sqlBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, b.classify(err)
	}
	return &sqlTx{tx: tx, backend: b}, nil
}

func (b *sqlBackend) Dialect() Dialect { return b.dialect }

func (b *sqlBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return b.classify(err)
	}
	return nil
}

func (b *sqlBackend) Tables(ctx context.Context) ([]string, error) {
	names, err := b.catalog.TableNames(ctx)
	if err != nil {
		return nil, b.classify(fmt.Errorf("failed to list tables: %w", err))
	}
	return names, nil
}

func (b *sqlBackend) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
	ts, idx, err := b.catalog.ExtractSchema(ctx, tables)
	if err != nil {
		return nil, nil, b.classify(err)
	}
	return ts, idx, nil
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	backend *sqlBackend
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...value.Value) (Result, error) {
	return t.backend.exec(ctx, t.tx, query, args)
}

func (t *sqlTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.backend.classify(err)
	}
	return nil
}

func (t *sqlTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return t.backend.classify(err)
	}
	return nil
}

type sqlCursor struct {
	rows     *sql.Rows
	cols     []ColumnInfo
	classify func(error) error
}

func (c *sqlCursor) Columns() []ColumnInfo { return c.cols }
func (c *sqlCursor) Next() bool            { return c.rows.Next() }

func (c *sqlCursor) Values() ([]any, error) {
	vals := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, c.classify(err)
	}
	return vals, nil
}

func (c *sqlCursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *sqlCursor) Close() error { return c.rows.Close() }
