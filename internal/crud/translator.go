// Package crud turns structured insert, update, delete and batch requests
// into parameterized SQL against a registered database, and executes ad-hoc
// queries as row streams.
package crud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// Translator executes structured CRUD requests. It borrows a handle from the
// registry for the duration of each call and never retains it.
type Translator struct {
	registry *db.Registry
	logger   *slog.Logger
}

// NewTranslator creates a translator resolving databases through registry.
func NewTranslator(registry *db.Registry, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{registry: registry, logger: logger}
}

func (t *Translator) backend(database, table string) (db.Backend, error) {
	if strings.TrimSpace(table) == "" {
		return nil, dberr.New(dberr.InvalidRequest, "table name must not be empty")
	}
	h, err := t.registry.Resolve(database)
	if err != nil {
		return nil, err
	}
	return h.Backend, nil
}

// CreateTable creates table def in the named database.
func (t *Translator) CreateTable(ctx context.Context, database string, def schema.Table) error {
	b, err := t.backend(database, def.Name)
	if err != nil {
		return err
	}
	if len(def.Columns) == 0 {
		return dberr.New(dberr.InvalidRequest, "table %s needs at least one column", def.Name)
	}
	for _, c := range def.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return dberr.New(dberr.InvalidRequest, "table %s has a column without a name", def.Name)
		}
		if !c.Type.Valid() {
			return dberr.New(dberr.TypeMismatch, "column %s has no valid type", c.Name)
		}
	}

	query := db.CreateTableSQL(b.Dialect(), def)
	t.logger.Debug("create table", "database", database, "sql", query)
	if _, err := b.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", def.Name, err)
	}
	return nil
}

// DropTable drops table if it exists.
func (t *Translator) DropTable(ctx context.Context, database, table string) error {
	b, err := t.backend(database, table)
	if err != nil {
		return err
	}
	if _, err := b.Exec(ctx, db.DropTableSQL(b.Dialect(), table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

// Insert inserts one row and returns the generated row id, or db.NoInsertID
// when the engine does not report one.
func (t *Translator) Insert(ctx context.Context, database, table string, vals value.Map) (int64, error) {
	b, err := t.backend(database, table)
	if err != nil {
		return db.NoInsertID, err
	}
	query, args := db.BuildInsert(b.Dialect(), table, vals)
	res, err := b.Exec(ctx, query, args...)
	if err != nil {
		return db.NoInsertID, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return res.LastInsertID, nil
}

// Update sets vals on the rows matching where and returns the number of rows
// the engine reports as changed. The where clause is raw SQL supplied by the
// caller; an empty clause updates every row.
func (t *Translator) Update(ctx context.Context, database, table string, vals value.Map, where string) (int64, error) {
	b, err := t.backend(database, table)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, dberr.New(dberr.InvalidRequest, "update of %s has no values to set", table)
	}
	query, args := db.BuildUpdate(b.Dialect(), table, vals, where)
	res, err := b.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return res.RowsAffected, nil
}

// Delete removes the rows matching where; an empty clause deletes every row.
func (t *Translator) Delete(ctx context.Context, database, table, where string) (int64, error) {
	b, err := t.backend(database, table)
	if err != nil {
		return 0, err
	}
	res, err := b.Exec(ctx, db.BuildDelete(b.Dialect(), table, where))
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected, nil
}

// BatchInsert inserts rows in one transaction. Each row gets its own
// statement, so column sets may differ between rows. On the first failure the
// transaction is rolled back and nothing is committed.
func (t *Translator) BatchInsert(ctx context.Context, database, table string, rows []value.Map) (int64, error) {
	b, err := t.backend(database, table)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var inserted int64
	for i, row := range rows {
		query, args := db.BuildInsert(b.Dialect(), table, row)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				t.logger.Warn("rollback failed", "table", table, "error", rbErr)
			}
			return 0, fmt.Errorf("failed to insert row %d into %s: %w", i+1, table, err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit batch into %s: %w", table, err)
	}
	return inserted, nil
}
