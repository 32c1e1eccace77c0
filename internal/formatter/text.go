package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/datasink/internal/schema"
)

// TextFormatter formats a schema document as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes every table of doc, separated by blank lines
func (f *TextFormatter) Format(doc *schema.Document) error {
	for i, table := range doc.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer) // Blank line between tables
		}
		f.formatTable(table, doc.IndexesFor(table.Name))
	}
	return nil
}

// FormatTable writes a single table
func (f *TextFormatter) FormatTable(table schema.Table, indexes []schema.Index) {
	f.formatTable(table, indexes)
}

func (f *TextFormatter) formatTable(table schema.Table, indexes []schema.Index) {
	pkStr := ""
	if pk := table.PrimaryKey(); len(pk) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(pk, ", "))
	}
	_, _ = fmt.Fprintf(f.writer, "TABLE %s%s\n", table.Name, pkStr)
	if table.Description != "" {
		_, _ = fmt.Fprintf(f.writer, "  -- %s\n", table.Description)
	}

	for _, col := range table.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", formatColumn(col))
	}

	if fks := table.ForeignKeys(); len(fks) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  REFERENCES:")
		for _, c := range fks {
			_, _ = fmt.Fprintf(f.writer, "    %s → %s.%s\n", c.Name, c.ForeignKey.Table, c.ForeignKey.Column)
		}
	}

	if len(indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  INDEXES:")
		for _, idx := range indexes {
			unique := ""
			if idx.Unique {
				unique = " UNIQUE"
			}
			_, _ = fmt.Fprintf(f.writer, "    %s (%s)%s\n", idx.Name, strings.Join(idx.Columns, ", "), unique)
		}
	}
}

func formatColumn(col schema.Column) string {
	parts := []string{col.Name + ":", col.Type.String()}

	if col.AutoIncrement {
		parts = append(parts, "AUTOINCREMENT")
	}
	if col.Unique {
		parts = append(parts, "UNIQUE")
	}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT %s", *col.Default))
	}

	return strings.Join(parts, " ")
}
