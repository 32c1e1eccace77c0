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

// MySQLExtractor handles schema extraction from MySQL
type MySQLExtractor struct {
	db         *sql.DB
	schemaName string
}

// NewMySQLExtractor creates a new MySQL schema extractor
func NewMySQLExtractor(db *sql.DB, schemaName string) *MySQLExtractor {
	return &MySQLExtractor{
		db:         db,
		schemaName: schemaName,
	}
}

// ExtractSchema extracts tables and secondary indexes.
// If tables is empty, extracts all tables in the schema
func (e *MySQLExtractor) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
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
		tableIndexes, err := e.extractIndexes(ctx, table)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to extract indexes of %s: %w", tableName, err)
		}
		extracted = append(extracted, *table)
		indexes = append(indexes, tableIndexes...)
	}
	return extracted, indexes, nil
}

// TableNames returns the base tables of the schema
func (e *MySQLExtractor) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	return queryStrings(ctx, e.db, query, e.schemaName)
}

// extractTable extracts columns, keys and references for a single table
func (e *MySQLExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, dberr.New(dberr.NotFound, "table '%s.%s' doesn't exist", e.schemaName, tableName)
	}
	table.Columns = columns

	pk, err := queryStrings(ctx, e.db, `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
			AND table_name = ?
			AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position
	`, e.schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	for _, name := range pk {
		if col, ok := table.Column(name); ok {
			col.PrimaryKey = true
			col.Nullable = false
			col.Unique = false
		}
	}

	if err := e.extractForeignKeys(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	return table, nil
}

// extractColumns extracts column information for a table
func (e *MySQLExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.column_type,
			c.is_nullable,
			c.column_default,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
					AND tc.table_name = kcu.table_name
				WHERE tc.table_schema = ?
					AND tc.table_name = ?
					AND tc.constraint_type = 'UNIQUE'
					AND kcu.column_name = c.column_name
			) THEN true ELSE false END as is_unique,
			c.extra
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, tableName, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var columnType, nullable, extra string
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &columnType, &nullable, &defaultVal, &col.Unique, &extra); err != nil {
			return nil, err
		}

		col.Type = mysqlLogicalType(columnType)
		col.Nullable = nullable == "YES"
		col.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// mysqlLogicalType treats tinyint(1) as BOOLEAN, the type MySQL itself
// creates for BOOL columns.
func mysqlLogicalType(columnType string) value.Type {
	if strings.EqualFold(columnType, "tinyint(1)") {
		return value.TypeBoolean
	}
	return logicalType(columnType)
}

// extractForeignKeys attaches foreign key references to their columns
func (e *MySQLExtractor) extractForeignKeys(ctx context.Context, table *schema.Table) error {
	query := `
		SELECT
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name
		FROM information_schema.key_column_usage kcu
		WHERE kcu.table_schema = ?
			AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, table.Name)
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

// extractIndexes extracts secondary indexes. MySQL stores UNIQUE column
// constraints as indexes too; a single-column unique index on a column
// already flagged unique is reported on the column only. Indexes MySQL adds
// for foreign keys carry the constraint name and are skipped.
func (e *MySQLExtractor) extractIndexes(ctx context.Context, table *schema.Table) ([]schema.Index, error) {
	query := `
		SELECT
			s.index_name,
			s.non_unique = 0 AS is_unique,
			GROUP_CONCAT(s.column_name ORDER BY s.seq_in_index) AS column_names
		FROM information_schema.statistics s
		WHERE s.table_schema = ?
			AND s.table_name = ?
			AND s.index_name != 'PRIMARY'
			AND s.index_name NOT IN (
				SELECT constraint_name
				FROM information_schema.table_constraints
				WHERE table_schema = ? AND table_name = ? AND constraint_type = 'FOREIGN KEY'
			)
		GROUP BY s.index_name, s.non_unique
		ORDER BY s.index_name
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, table.Name, e.schemaName, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		idx := schema.Index{Table: table.Name}
		var isUnique int
		var columnNames string

		if err := rows.Scan(&idx.Name, &isUnique, &columnNames); err != nil {
			return nil, err
		}

		idx.Unique = isUnique == 1
		idx.Columns = strings.Split(columnNames, ",")
		if idx.Unique && len(idx.Columns) == 1 {
			if col, ok := table.Column(idx.Columns[0]); ok && col.Unique && idx.Name == col.Name {
				continue
			}
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
