package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// SQLiteExtractor handles schema extraction from SQLite
type SQLiteExtractor struct {
	db *sql.DB
}

// NewSQLiteExtractor creates a new SQLite schema extractor
func NewSQLiteExtractor(db *sql.DB) *SQLiteExtractor {
	return &SQLiteExtractor{db: db}
}

// ExtractSchema extracts tables and their user-defined indexes.
// If tables is empty, extracts all tables in the database
func (e *SQLiteExtractor) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
	tableNames, err := requestedOr(ctx, tables, e.TableNames)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get table names: %w", err)
	}

	var (
		extracted []schema.Table
		indexes   []schema.Index
	)
	for _, tableName := range tableNames {
		table, tableIndexes, err := e.extractTable(ctx, tableName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to extract table %s: %w", tableName, err)
		}
		extracted = append(extracted, *table)
		indexes = append(indexes, tableIndexes...)
	}
	return extracted, indexes, nil
}

// TableNames lists user tables in name order
func (e *SQLiteExtractor) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	return queryStrings(ctx, e.db, query)
}

func (e *SQLiteExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, []schema.Index, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, nil, dberr.New(dberr.NotFound, "no such table: %s", tableName)
	}
	table.Columns = columns

	if err := e.extractForeignKeys(ctx, table); err != nil {
		return nil, nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}

	autoIncrement, err := e.hasAutoIncrement(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	if pk := table.PrimaryKey(); autoIncrement && len(pk) == 1 {
		col, _ := table.Column(pk[0])
		col.AutoIncrement = col.Type == value.TypeInteger
	}

	indexes, err := e.extractIndexes(ctx, table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	return table, indexes, nil
}

// extractColumns extracts column information for a table
func (e *SQLiteExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", sqliteDialect.Quote(tableName))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}

		col := schema.Column{
			Name:       name,
			Type:       logicalType(colType),
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		}
		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// hasAutoIncrement checks the table's DDL for the AUTOINCREMENT keyword
func (e *SQLiteExtractor) hasAutoIncrement(ctx context.Context, tableName string) (bool, error) {
	var ddl sql.NullString
	err := e.db.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", tableName).Scan(&ddl)
	if err != nil {
		return false, fmt.Errorf("failed to read table definition: %w", err)
	}
	return strings.Contains(strings.ToUpper(ddl.String), "AUTOINCREMENT"), nil
}

// extractForeignKeys attaches foreign key references to their columns
func (e *SQLiteExtractor) extractForeignKeys(ctx context.Context, table *schema.Table) error {
	query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqliteDialect.Quote(table.Name))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, seq int
		var targetTable, fromCol string
		var toCol, onUpdate, onDelete, match sql.NullString

		if err := rows.Scan(&id, &seq, &targetTable, &fromCol, &toCol, &onUpdate, &onDelete, &match); err != nil {
			return err
		}
		if col, ok := table.Column(fromCol); ok {
			col.ForeignKey = &schema.ForeignKey{Table: targetTable, Column: toCol.String}
		}
	}
	return rows.Err()
}

type sqliteIndex struct {
	name   string
	unique bool
	origin string
}

// extractIndexes returns explicitly created indexes. Single-column UNIQUE
// constraints are recorded on the column instead.
func (e *SQLiteExtractor) extractIndexes(ctx context.Context, table *schema.Table) ([]schema.Index, error) {
	query := fmt.Sprintf("PRAGMA index_list(%s)", sqliteDialect.Quote(table.Name))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	var list []sqliteIndex
	for rows.Next() {
		var seq, unique, partial int
		var idx sqliteIndex
		if err := rows.Scan(&seq, &idx.name, &unique, &idx.origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		idx.unique = unique == 1
		list = append(list, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var indexes []schema.Index
	for _, idx := range list {
		if idx.origin == "pk" {
			continue
		}
		columns, err := e.indexColumns(ctx, idx.name)
		if err != nil {
			return nil, err
		}
		switch idx.origin {
		case "u":
			if len(columns) == 1 {
				if col, ok := table.Column(columns[0]); ok {
					col.Unique = true
				}
			}
		case "c":
			if len(columns) > 0 {
				indexes = append(indexes, schema.Index{
					Table:   table.Name,
					Name:    idx.name,
					Columns: columns,
					Unique:  idx.unique,
				})
			}
		}
	}
	return indexes, nil
}

func (e *SQLiteExtractor) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%s)", sqliteDialect.Quote(indexName))
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString
		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, err
		}
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}
	return columns, rows.Err()
}

// logicalType maps a catalog type name to a logical type, defaulting to TEXT.
func logicalType(declared string) value.Type {
	if t, ok := value.TypeFromDeclared(declared); ok {
		return t
	}
	return value.TypeText
}

func requestedOr(ctx context.Context, requested []string, all func(context.Context) ([]string, error)) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	return all(ctx)
}

type rowQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryStrings(ctx context.Context, db rowQueryer, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
