package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/datasink/internal/schema"
)

// MarkdownFormatter formats a schema document as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the document header and every table
func (f *MarkdownFormatter) Format(doc *schema.Document) error {
	title := doc.Database.Name
	if title == "" {
		title = "Database Schema"
	}
	_, _ = fmt.Fprintf(f.writer, "# %s\n\n", title)
	if doc.Database.Description != "" {
		_, _ = fmt.Fprintf(f.writer, "%s\n\n", doc.Database.Description)
	}
	if doc.Database.Version != "" {
		_, _ = fmt.Fprintf(f.writer, "Version: %s\n\n", doc.Database.Version)
	}

	for _, table := range doc.Tables {
		f.FormatTable(table, doc.IndexesFor(table.Name))
	}
	return nil
}

// FormatTable formats a single table (exported for use by multifile formatter)
func (f *MarkdownFormatter) FormatTable(table schema.Table, indexes []schema.Index) {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", table.Name)
	if table.Description != "" {
		_, _ = fmt.Fprintf(f.writer, "%s\n\n", table.Description)
	}

	_, _ = fmt.Fprintln(f.writer, "### Columns")
	_, _ = fmt.Fprintln(f.writer)
	for _, col := range table.Columns {
		if c := formatConstraints(col); c != "" {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s, %s\n", col.Name, col.Type, c)
		} else {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s\n", col.Name, col.Type)
		}
	}
	_, _ = fmt.Fprintln(f.writer)

	if fks := table.ForeignKeys(); len(fks) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### References")
		_, _ = fmt.Fprintln(f.writer)
		for _, c := range fks {
			_, _ = fmt.Fprintf(f.writer, "- %s → %s.%s\n", c.Name, c.ForeignKey.Table, c.ForeignKey.Column)
		}
		_, _ = fmt.Fprintln(f.writer)
	}

	if len(indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### Indexes")
		_, _ = fmt.Fprintln(f.writer)
		for _, idx := range indexes {
			if idx.Unique {
				_, _ = fmt.Fprintf(f.writer, "- %s on (%s), unique\n", idx.Name, strings.Join(idx.Columns, ", "))
			} else {
				_, _ = fmt.Fprintf(f.writer, "- %s on (%s)\n", idx.Name, strings.Join(idx.Columns, ", "))
			}
		}
		_, _ = fmt.Fprintln(f.writer)
	}
}

func formatConstraints(col schema.Column) string {
	var constraints []string

	if col.PrimaryKey {
		constraints = append(constraints, "PK")
	}
	if col.AutoIncrement {
		constraints = append(constraints, "AUTOINCREMENT")
	}
	if col.Unique {
		constraints = append(constraints, "UNIQUE")
	}
	if !col.Nullable {
		constraints = append(constraints, "NOT NULL")
	}
	if col.Default != nil {
		constraints = append(constraints, fmt.Sprintf("DEFAULT %s", *col.Default))
	}

	return strings.Join(constraints, ", ")
}
