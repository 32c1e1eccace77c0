package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tordrt/datasink/internal/schema"
)

const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// MultiFileFormatter writes a document to a directory: an overview file plus
// one file per table
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes the overview and the per-table files
func (f *MultiFileFormatter) Format(doc *schema.Document) error {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeFile("_overview", func(w io.Writer) { f.writeOverview(w, doc) }); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for _, table := range doc.Tables {
		err := f.writeFile(table.Name, func(w io.Writer) { f.writeTable(w, table, doc) })
		if err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", table.Name, err)
		}
	}

	return nil
}

func (f *MultiFileFormatter) writeFile(name string, body func(io.Writer)) error {
	file, err := os.Create(filepath.Join(f.OutputDir, name+f.getFileExtension()))
	if err != nil {
		return err
	}
	body(file)
	return file.Close()
}

func (f *MultiFileFormatter) writeOverview(w io.Writer, doc *schema.Document) {
	if f.OutputFormat == FormatMarkdown {
		_, _ = fmt.Fprintf(w, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(w, "Each table has a corresponding file: `<table_name>%s`\n\n", f.getFileExtension())
		_, _ = fmt.Fprintf(w, "## Tables\n\n")
	} else {
		_, _ = fmt.Fprintf(w, "SCHEMA OVERVIEW\n")
		_, _ = fmt.Fprintf(w, "Each table has a file: <table_name>%s\n\n", f.getFileExtension())
	}

	// Sort tables alphabetically
	sorted := make([]schema.Table, len(doc.Tables))
	copy(sorted, doc.Tables)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	for _, table := range sorted {
		line := table.Name
		if f.OutputFormat == FormatMarkdown {
			line = "- **" + table.Name + "**"
		}
		if targets := referencedTables(table); len(targets) > 0 {
			line += fmt.Sprintf(" (references: %s)", strings.Join(targets, ", "))
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func referencedTables(table schema.Table) []string {
	var targets []string
	seen := map[string]bool{}
	for _, c := range table.ForeignKeys() {
		if !seen[c.ForeignKey.Table] {
			seen[c.ForeignKey.Table] = true
			targets = append(targets, c.ForeignKey.Table)
		}
	}
	return targets
}

func (f *MultiFileFormatter) writeTable(w io.Writer, table schema.Table, doc *schema.Document) {
	indexes := doc.IndexesFor(table.Name)
	incoming := findIncomingRelations(table.Name, doc)

	if f.OutputFormat == FormatMarkdown {
		NewMarkdownFormatter(w).FormatTable(table, indexes)
		if len(incoming) > 0 {
			_, _ = fmt.Fprintf(w, "### Referenced by\n\n")
			for _, rel := range incoming {
				_, _ = fmt.Fprintf(w, "- %s.%s → %s\n", rel.SourceTable, rel.SourceColumn, rel.TargetColumn)
			}
			_, _ = fmt.Fprintln(w)
		}
		return
	}

	NewTextFormatter(w).FormatTable(table, indexes)
	if len(incoming) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "  REFERENCED BY:")
		for _, rel := range incoming {
			_, _ = fmt.Fprintf(w, "    %s.%s → %s\n", rel.SourceTable, rel.SourceColumn, rel.TargetColumn)
		}
	}
}

// IncomingRelation represents a foreign key pointing to a table
type IncomingRelation struct {
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
}

// findIncomingRelations finds all foreign keys pointing to tableName
func findIncomingRelations(tableName string, doc *schema.Document) []IncomingRelation {
	var incoming []IncomingRelation
	for _, table := range doc.Tables {
		for _, c := range table.ForeignKeys() {
			if c.ForeignKey.Table == tableName {
				incoming = append(incoming, IncomingRelation{
					SourceTable:  table.Name,
					SourceColumn: c.Name,
					TargetTable:  c.ForeignKey.Table,
					TargetColumn: c.ForeignKey.Column,
				})
			}
		}
	}
	return incoming
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}
