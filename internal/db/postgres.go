package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// PostgresBackend is a pooled PostgreSQL connection
type PostgresBackend struct {
	pool   *pgxpool.Pool
	types  *pgtype.Map
	schema string
}

// NewPostgresBackend creates a connection pool and verifies it with a ping
func NewPostgresBackend(ctx context.Context, connString string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidRequest, err, "failed to parse connection string")
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dberr.Wrap(dberr.BackendUnavailable, err, "failed to ping database")
	}

	b := &PostgresBackend{pool: pool, types: pgtype.NewMap(), schema: "public"}
	if err := pool.QueryRow(ctx, "SELECT current_schema()").Scan(&b.schema); err != nil {
		pool.Close()
		return nil, classifyPostgres(fmt.Errorf("failed to read current schema: %w", err))
	}
	return b, nil
}

// bind encodes values for columns created by the PostgreSQL dialect, which
// uses native BOOLEAN and TIMESTAMPTZ types.
func (b *PostgresBackend) bind(vals []value.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch v.Kind() {
		case value.KindBoolean:
			out[i], _ = v.AsBool()
		case value.KindTimestamp:
			epoch, _ := v.AsInt()
			out[i] = time.Unix(epoch, 0).UTC()
		default:
			out[i] = v.Native()
		}
	}
	return out
}

func (b *PostgresBackend) Exec(ctx context.Context, query string, args ...value.Value) (Result, error) {
	tag, err := b.pool.Exec(ctx, query, b.bind(args)...)
	if err != nil {
		return Result{}, classifyPostgres(err)
	}
	return Result{RowsAffected: tag.RowsAffected(), LastInsertID: NoInsertID}, nil
}

func (b *PostgresBackend) Query(ctx context.Context, query string, args ...value.Value) (Cursor, error) {
	rows, err := b.pool.Query(ctx, query, b.bind(args)...)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	fields := rows.FieldDescriptions()
	cols := make([]ColumnInfo, len(fields))
	for i, fd := range fields {
		cols[i] = ColumnInfo{Name: fd.Name}
		if t, ok := b.types.TypeForOID(fd.DataTypeOID); ok {
			cols[i].DatabaseType = t.Name
		}
	}
	return &pgCursor{rows: rows, cols: cols}, nil
}

func (b *PostgresBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return &pgTx{tx: tx, backend: b}, nil
}

func (b *PostgresBackend) Dialect() Dialect { return postgresDialect }

func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

func (b *PostgresBackend) Tables(ctx context.Context) ([]string, error) {
	names, err := NewPostgresExtractor(b.pool, b.schema).TableNames(ctx)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return names, nil
}

func (b *PostgresBackend) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
	ts, idx, err := NewPostgresExtractor(b.pool, b.schema).ExtractSchema(ctx, tables)
	if err != nil {
		return nil, nil, classifyPostgres(err)
	}
	return ts, idx, nil
}

// Close closes the pool
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	backend *PostgresBackend
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...value.Value) (Result, error) {
	tag, err := t.tx.Exec(ctx, query, t.backend.bind(args)...)
	if err != nil {
		return Result{}, classifyPostgres(err)
	}
	return Result{RowsAffected: tag.RowsAffected(), LastInsertID: NoInsertID}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return classifyPostgres(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classifyPostgres(err)
	}
	return nil
}

type pgCursor struct {
	rows pgx.Rows
	cols []ColumnInfo
}

func (c *pgCursor) Columns() []ColumnInfo { return c.cols }
func (c *pgCursor) Next() bool            { return c.rows.Next() }

func (c *pgCursor) Values() ([]any, error) {
	vals, err := c.rows.Values()
	if err != nil {
		return nil, classifyPostgres(err)
	}
	for i, v := range vals {
		vals[i] = normalizePostgres(v)
	}
	return vals, nil
}

func (c *pgCursor) Err() error { return classifyPostgres(c.rows.Err()) }

func (c *pgCursor) Close() error {
	c.rows.Close()
	return nil
}

// normalizePostgres converts pgx-specific decoded types into plain Go values.
func normalizePostgres(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Duration:
		return x.String()
	}
	return v
}

func classifyPostgres(err error) error {
	if out, ok := classifyCommon(err); ok {
		return out
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return &dberr.Error{Kind: dberr.ConstraintViolation, Err: err}
		case pgErr.Code == "42P01", pgErr.Code == "42703", pgErr.Code == "3D000":
			return &dberr.Error{Kind: dberr.NotFound, Err: err}
		case pgErr.Code == "42P07", pgErr.Code == "42710", pgErr.Code == "42P04":
			return &dberr.Error{Kind: dberr.AlreadyExists, Err: err}
		case pgErr.Code == "42601":
			return &dberr.Error{Kind: dberr.SyntaxError, Err: err}
		case pgErr.Code == "42804", pgErr.Code == "42883", strings.HasPrefix(pgErr.Code, "22"):
			return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
		}
		return &dberr.Error{Kind: dberr.Internal, Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
	}
	return classifyMessage(err)
}
