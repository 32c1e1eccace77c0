package schema

import "github.com/tordrt/datasink/internal/value"

// Document is a declarative database description: metadata, tables in
// creation order, indexes, and seed rows keyed by table name.
type Document struct {
	Database Info
	Tables   []Table
	Indexes  []Index
	Data     map[string][]Row
}

// Info holds the document's database metadata
type Info struct {
	Name        string
	Description string
	Version     string
}

// Table represents a table definition. Column order is the DDL column order.
type Table struct {
	Name        string
	Description string
	Columns     []Column
}

// Column represents a table column
type Column struct {
	Name          string
	Type          value.Type
	Nullable      bool
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
	Default       *string
	ForeignKey    *ForeignKey
}

// ForeignKey references a column of another table
type ForeignKey struct {
	Table  string
	Column string
}

// Index represents a secondary index
type Index struct {
	Table   string
	Name    string
	Columns []string
	Unique  bool
}

// Row is one seed row: column name to literal as written in the document.
type Row map[string]any

// Table returns the table with the given name.
func (d *Document) Table(name string) (*Table, bool) {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// IndexesFor returns the indexes declared on table, in document order.
func (d *Document) IndexesFor(table string) []Index {
	var out []Index
	for _, idx := range d.Indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key columns in declaration order.
func (t *Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// ForeignKeys returns the columns that reference another table.
func (t *Table) ForeignKeys() []Column {
	var fks []Column
	for _, c := range t.Columns {
		if c.ForeignKey != nil {
			fks = append(fks, c)
		}
	}
	return fks
}
