package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// PostgresExtractor handles schema extraction from PostgreSQL
type PostgresExtractor struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresExtractor creates a new schema extractor
func NewPostgresExtractor(pool *pgxpool.Pool, schemaName string) *PostgresExtractor {
	return &PostgresExtractor{
		pool:   pool,
		schema: schemaName,
	}
}

// ExtractSchema extracts tables and secondary indexes.
// If tables is empty, extracts all tables in the schema
func (e *PostgresExtractor) ExtractSchema(ctx context.Context, tables []string) ([]schema.Table, []schema.Index, error) {
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

// TableNames returns the base tables of the schema
func (e *PostgresExtractor) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := e.pool.Query(ctx, query, e.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}
	return tables, rows.Err()
}

// extractTable extracts columns, keys and references for a single table
func (e *PostgresExtractor) extractTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.extractColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, dberr.New(dberr.NotFound, "relation %q does not exist", tableName)
	}
	table.Columns = columns

	pk, err := e.extractPrimaryKey(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	for _, name := range pk {
		if col, ok := table.Column(name); ok {
			col.PrimaryKey = true
			col.Nullable = false
		}
	}
	if len(pk) != 1 {
		for i := range table.Columns {
			table.Columns[i].AutoIncrement = false
		}
	}

	if err := e.extractForeignKeys(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	return table, nil
}

// extractColumns extracts column information for a table
func (e *PostgresExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.constraint_column_usage ccu
					ON tc.constraint_name = ccu.constraint_name
					AND tc.table_schema = ccu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'UNIQUE'
					AND ccu.column_name = c.column_name
			) THEN true ELSE false END as is_unique,
			c.is_identity = 'YES' as is_identity
		FROM information_schema.columns c
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var dataType, nullable string
		var defaultVal *string

		if err := rows.Scan(&col.Name, &dataType, &nullable, &defaultVal, &col.Unique, &col.AutoIncrement); err != nil {
			return nil, err
		}

		col.Type = logicalType(dataType)
		col.Nullable = nullable == "YES"
		col.Default = defaultVal
		col.AutoIncrement = col.AutoIncrement && col.Type == value.TypeInteger

		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// extractPrimaryKey extracts primary key columns
func (e *PostgresExtractor) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = $1
			AND table_name = $2
			AND constraint_name IN (
				SELECT constraint_name
				FROM information_schema.table_constraints
				WHERE table_schema = $1
					AND table_name = $2
					AND constraint_type = 'PRIMARY KEY'
			)
		ORDER BY ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		pk = append(pk, colName)
	}
	return pk, rows.Err()
}

// extractForeignKeys attaches foreign key references to their columns
func (e *PostgresExtractor) extractForeignKeys(ctx context.Context, table *schema.Table) error {
	query := `
		SELECT
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, e.schema, table.Name)
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

// extractIndexes extracts explicitly created indexes. Indexes that back a
// primary key or UNIQUE constraint are skipped.
func (e *PostgresExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			i.relname AS index_name,
			ix.indisunique AS is_unique,
			array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)) AS column_names
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
			AND NOT EXISTS (SELECT 1 FROM pg_constraint c WHERE c.conindid = ix.indexrelid)
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		idx := schema.Index{Table: tableName}
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Columns); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
