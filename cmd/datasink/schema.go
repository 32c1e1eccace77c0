package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tordrt/datasink"
	"github.com/tordrt/datasink/internal/formatter"
	"github.com/tordrt/datasink/internal/schema"
)

const formatSchemaFile = "schema"

var (
	outputFile    string
	outputDir     string
	schemaFormat  string
	showFormat    string
	tables        string
	excludeTables string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the structure of the default database",
	Long: `Inspect the structure of the database selected by --database-url or
--database-name. These commands connect directly and do not need a running server.`,
	Example: `  datasink schema list-tables
  datasink schema describe users
  datasink schema show --format markdown
  datasink schema export -o blog.schema --exclude schema_migrations`,
}

var listTablesCmd = &cobra.Command{
	Use:   "list-tables",
	Short: "List all tables",
	Args:  cobra.NoArgs,
	RunE:  runListTables,
}

var describeCmd = &cobra.Command{
	Use:   "describe <table>",
	Short: "Describe one table's columns, references and indexes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the full database schema",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Aliases: []string{"export-schema"},
	Short:   "Export the database structure as a schema file",
	Long: `Export tables, columns, foreign keys and indexes as a schema file that
create-from-schema accepts. Seed data is not exported. With --format text or
markdown the structure is rendered for reading instead, and --output-dir writes
one file per table.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", formatter.FormatText, "Output format: text, markdown or schema")

	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory for multi-file output (text or markdown)")
	exportCmd.Flags().StringVarP(&schemaFormat, "format", "f", formatSchemaFile, "Output format: schema, text or markdown")
	exportCmd.Flags().StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	exportCmd.Flags().StringVar(&excludeTables, "exclude", "", "Tables to exclude (comma-separated, optional)")

	schemaCmd.AddCommand(listTablesCmd, describeCmd, showCmd, exportCmd)
}

func exportDefault(cmd *cobra.Command, opts datasink.ExportOptions) (*schema.Document, error) {
	locator, err := resolveDatabaseURL()
	if err != nil {
		return nil, err
	}
	opts.Options = *libraryOptions()
	return datasink.ExportSchema(cmd.Context(), locator, &opts)
}

func runListTables(cmd *cobra.Command, args []string) error {
	doc, err := exportDefault(cmd, datasink.ExportOptions{})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(doc.Tables) == 0 {
		_, _ = fmt.Fprintln(out, "No tables found")
		return nil
	}
	names := make([]string, len(doc.Tables))
	for i, t := range doc.Tables {
		names[i] = t.Name
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintln(out, name)
	}
	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	doc, err := exportDefault(cmd, datasink.ExportOptions{Tables: args})
	if err != nil {
		return err
	}
	table, ok := doc.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not found", args[0])
	}
	formatter.NewTextFormatter(cmd.OutOrStdout()).FormatTable(*table, doc.IndexesFor(table.Name))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	doc, err := exportDefault(cmd, datasink.ExportOptions{})
	if err != nil {
		return err
	}
	return writeDocument(cmd.OutOrStdout(), doc, showFormat, "")
}

func runExport(cmd *cobra.Command, args []string) error {
	if outputDir != "" && outputFile != "" {
		return fmt.Errorf("cannot use both --output-dir and --output flags")
	}
	if outputDir != "" && schemaFormat == formatSchemaFile {
		return fmt.Errorf("--output-dir requires --format text or markdown")
	}

	doc, err := exportDefault(cmd, datasink.ExportOptions{
		Tables:        parseTableList(tables),
		ExcludeTables: parseTableList(excludeTables),
	})
	if err != nil {
		return err
	}

	var writer io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
			}
		}()
		writer = f
	}
	return writeDocument(writer, doc, schemaFormat, outputDir)
}

func writeDocument(w io.Writer, doc *schema.Document, format, dir string) error {
	if strings.EqualFold(format, formatSchemaFile) {
		return datasink.WriteSchema(w, doc)
	}
	if err := datasink.FormatSchema(doc, &datasink.OutputOptions{Writer: w, OutputDir: dir, Format: format}); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}
