package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
)

// SQLServerExtractor handles schema extraction from SQL Server. Only the
// caller's default schema is inspected.
type SQLServerExtractor struct {
	db *sql.DB
}

// NewSQLServerExtractor creates a new SQL Server schema extractor
func NewSQLServerExtractor(db *sql.DB) *SQLServerExtractor {
	return &SQLServerExtractor{db: db}
}

// ExtractSchema extracts tables and secondary indexes.
// If tables is empty, extracts all tables in the schema
func (e *SQLServerExtractor) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
	tableNames, err := requestedOr(ctx, tables, e.TableNames)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get table names: %w", err)
	}

	var (
		extracted []schema.Table
		indexes   []schema.Index
	)
	for _, tableName := range tableNames {
		table, err := e.extractTable(ctx, tableName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to extract table %s: %w", tableName, err)
		}
		tableIndexes, err := e.extractIndexes(ctx, tableName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to extract indexes of %s: %w", tableName, err)
		}
		extracted = append(extracted, *table)
		indexes = append(indexes, tableIndexes...)
	}
	return extracted, indexes, nil
}

// TableNames returns the base tables of the default schema
func (e *SQLServerExtractor) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	return queryStrings(ctx, e.db, query)
}

func (e *SQLServerExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	query := `
		SELECT
			c.name,
			t.name,
			c.is_nullable,
			OBJECT_DEFINITION(c.default_object_id),
			c.is_identity,
			CASE WHEN EXISTS (
				SELECT 1 FROM sys.index_columns ic
				JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
				WHERE ic.object_id = c.object_id AND ic.column_id = c.column_id
					AND i.is_primary_key = 1
			) THEN 1 ELSE 0 END,
			CASE WHEN EXISTS (
				SELECT 1 FROM sys.index_columns ic
				JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
				WHERE ic.object_id = c.object_id AND ic.column_id = c.column_id
					AND i.is_unique_constraint = 1
			) THEN 1 ELSE 0 END
		FROM sys.columns c
		JOIN sys.types t ON t.user_type_id = c.user_type_id
		WHERE c.object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + '.' + QUOTENAME(@p1))
		ORDER BY c.column_id
	`
	rows, err := e.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col schema.Column
		var typeName string
		var nullable, identity bool
		var pk, unique int
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &typeName, &nullable, &defaultVal, &identity, &pk, &unique); err != nil {
			return nil, err
		}
		col.Type = logicalType(typeName)
		col.Nullable = nullable && pk == 0
		col.PrimaryKey = pk == 1
		col.Unique = unique == 1
		col.AutoIncrement = identity
		if defaultVal.Valid {
			d := trimParens(defaultVal.String)
			col.Default = &d
		}
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, dberr.New(dberr.NotFound, "invalid object name '%s'", tableName)
	}

	if err := e.extractForeignKeys(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	return table, nil
}

// extractForeignKeys attaches foreign key references to their columns
func (e *SQLServerExtractor) extractForeignKeys(ctx context.Context, table *schema.Table) error {
	query := `
		SELECT
			pc.name,
			OBJECT_NAME(fkc.referenced_object_id),
			rc.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fkc.parent_object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + '.' + QUOTENAME(@p1))
		ORDER BY fkc.constraint_column_id
	`
	rows, err := e.db.QueryContext(ctx, query, table.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var fk schema.ForeignKey
		if err := rows.Scan(&source, &fk.Table, &fk.Column); err != nil {
			return err
		}
		if col, ok := table.Column(source); ok {
			ref := fk
			col.ForeignKey = &ref
		}
	}
	return rows.Err()
}

// extractIndexes extracts indexes that do not back a key constraint
func (e *SQLServerExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT i.name, i.is_unique, c.name
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + '.' + QUOTENAME(@p1))
			AND i.is_primary_key = 0
			AND i.is_unique_constraint = 0
			AND i.type > 0
		ORDER BY i.name, ic.key_ordinal
	`
	rows, err := e.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &unique, &column); err != nil {
			return nil, err
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, schema.Index{Table: tableName, Name: name, Unique: unique, Columns: []string{column}})
	}
	return indexes, rows.Err()
}

// trimParens strips the parentheses SQL Server wraps around stored default
// expressions, e.g. ((0)) -> 0.
func trimParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && closingParen(s) == len(s)-1 {
		s = s[1 : len(s)-1]
	}
	return s
}

// closingParen returns the index of the parenthesis closing s[0].
func closingParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
