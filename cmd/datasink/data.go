package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tordrt/datasink/internal/formatter"
	"github.com/tordrt/datasink/internal/service"
	"github.com/tordrt/datasink/internal/transport"
)

var (
	targetDatabase string
	resultFormat   string
	queryParams    []string
	whereClause    string
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SQL statement and stream its result",
	Example: `  datasink query "SELECT * FROM users"
  datasink query "SELECT * FROM users WHERE age > :age" --param age=18 -f json
  datasink query "SELECT name, email FROM users" -f csv -D mydb`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var insertCmd = &cobra.Command{
	Use:   "insert <table> <json>",
	Short: "Insert one row",
	Example: `  datasink insert users '{"name": "Alice", "email": "alice@example.com"}'
  datasink insert products '{"name": "Laptop", "price": 999.99, "stock": 10}' -D shop`,
	Args: cobra.ExactArgs(2),
	RunE: runInsert,
}

var updateCmd = &cobra.Command{
	Use:   "update <table> <json>",
	Short: "Update rows matching a WHERE clause",
	Example: `  datasink update users '{"email": "new@example.com"}' -w "id = 1"
  datasink update notes '{"status": "closed"}' -w "id = 5" -D postit`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <table>",
	Short: "Delete rows matching a WHERE clause",
	Example: `  datasink delete users -w "id = 1"
  datasink delete notes -w "status = 'archived'" -D postit`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var batchInsertCmd = &cobra.Command{
	Use:   "batch-insert <table> <json-array|->",
	Short: "Insert several rows in one transaction",
	Long: `Insert several rows in one transaction: either all rows are inserted or none.
Pass the rows as a JSON array of objects, or "-" to read the array from stdin.`,
	Example: `  datasink batch-insert users '[{"name": "a"}, {"name": "b"}]'
  cat rows.json | datasink batch-insert users -`,
	Args: cobra.ExactArgs(2),
	RunE: runBatchInsert,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, insertCmd, updateCmd, deleteCmd, batchInsertCmd} {
		c.Flags().StringVarP(&targetDatabase, "database", "D", "", "Target database (defaults to \"default\")")
	}
	queryCmd.Flags().StringVarP(&resultFormat, "format", "f", formatter.ResultTable, "Output format: table, json or csv")
	queryCmd.Flags().StringArrayVarP(&queryParams, "param", "p", nil, "Named parameter as name=value; values are parsed as JSON when possible")

	// An empty WHERE clause is allowed and affects every row, so the flag
	// must be given explicitly.
	updateCmd.Flags().StringVarP(&whereClause, "where", "w", "", "WHERE clause, e.g. \"id = 1\"")
	deleteCmd.Flags().StringVarP(&whereClause, "where", "w", "", "WHERE clause, e.g. \"id = 1\"")
	_ = updateCmd.MarkFlagRequired("where")
	_ = deleteCmd.MarkFlagRequired("where")
}

func runQuery(cmd *cobra.Command, args []string) error {
	params, err := parseParams(queryParams)
	if err != nil {
		return err
	}
	out, err := formatter.NewResultWriter(cmd.OutOrStdout(), resultFormat)
	if err != nil {
		return err
	}

	stream, err := newClient().Query(cmd.Context(), &service.QueryRequest{
		SQL:        args[0],
		Parameters: params,
		Database:   targetDatabase,
	})
	if err != nil {
		return queryError(err)
	}
	defer func() { _ = stream.Close() }()

	return writeStream(out, stream)
}

func writeStream(out formatter.ResultWriter, stream *transport.QueryStream) error {
	cols := stream.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if err := out.WriteHeader(names); err != nil {
		return err
	}
	for stream.Next() {
		if err := out.WriteRow(stream.Row()); err != nil {
			return err
		}
	}
	// rows already printed stay printed; the stream error still fails the command
	if err := out.Flush(); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		return queryError(err)
	}
	return nil
}

func queryError(err error) error {
	var remote *transport.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("query failed: %s - %s", remote.Code, remote.Message)
	}
	return fmt.Errorf("query failed: %w", err)
}

func runInsert(cmd *cobra.Command, args []string) error {
	vals, err := parseValues(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := unaryContext(cmd)
	defer cancel()
	resp, err := newClient().Insert(ctx, &service.InsertRequest{TableName: args[0], Values: vals, Database: targetDatabase})
	if err != nil {
		return err
	}
	if !resp.Success {
		return ackError(resp.Ack)
	}
	if resp.InsertedID >= 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Insert successful. ID: %d\n", resp.InsertedID)
	} else {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Insert successful.")
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	vals, err := parseValues(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := unaryContext(cmd)
	defer cancel()
	resp, err := newClient().Update(ctx, &service.UpdateRequest{
		TableName:   args[0],
		Values:      vals,
		WhereClause: whereClause,
		Database:    targetDatabase,
	})
	if err != nil {
		return err
	}
	return report(cmd, resp.Ack)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := unaryContext(cmd)
	defer cancel()

	resp, err := newClient().Delete(ctx, &service.DeleteRequest{
		TableName:   args[0],
		WhereClause: whereClause,
		Database:    targetDatabase,
	})
	if err != nil {
		return err
	}
	return report(cmd, resp.Ack)
}

func runBatchInsert(cmd *cobra.Command, args []string) error {
	data := args[1]
	if data == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read rows from stdin: %w", err)
		}
		data = string(b)
	}
	rows, err := parseRows(data)
	if err != nil {
		return err
	}

	ctx, cancel := unaryContext(cmd)
	defer cancel()
	resp, err := newClient().BatchInsert(ctx, &service.BatchInsertRequest{TableName: args[0], Rows: rows, Database: targetDatabase})
	if err != nil {
		return err
	}
	return report(cmd, resp.Ack)
}

// report prints a successful ack's message, or turns a failed ack into the
// command's error.
func report(cmd *cobra.Command, ack service.Ack) error {
	if !ack.Success {
		return ackError(ack)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), ack.Message)
	return nil
}

func ackError(ack service.Ack) error {
	msg := strings.TrimSpace(ack.Message)
	if ack.ErrorCode == "" {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %s", ack.ErrorCode, msg)
}
