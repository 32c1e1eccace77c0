package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tordrt/datasink/internal/value"
)

// Result output formats.
const (
	ResultTable = "table"
	ResultJSON  = "json"
	ResultCSV   = "csv"
)

// ResultWriter renders query results row by row, so large results are never
// held in memory.
type ResultWriter interface {
	WriteHeader(columns []string) error
	WriteRow(row []value.Value) error
	// Flush completes the output. It must be called once after the last row.
	Flush() error
}

// NewResultWriter returns a writer for format: table, json or csv.
func NewResultWriter(w io.Writer, format string) (ResultWriter, error) {
	switch strings.ToLower(format) {
	case ResultTable, "":
		return &tableWriter{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}, nil
	case ResultJSON:
		return &jsonWriter{w: w}, nil
	case ResultCSV:
		return &csvWriter{cw: csv.NewWriter(w)}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (use table, json or csv)", format)
}

// cell renders a value for the text formats. Timestamps are shown in UTC and
// blobs are base64 encoded.
func cell(v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "NULL"
	case value.KindTimestamp:
		epoch, _ := v.AsInt()
		return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
	case value.KindBlob:
		return v.ToExternal().(string)
	}
	return v.String()
}

type tableWriter struct {
	tw   *tabwriter.Writer
	rows int
}

func (t *tableWriter) WriteHeader(columns []string) error {
	_, err := fmt.Fprintln(t.tw, strings.Join(columns, "\t"))
	if err != nil {
		return err
	}
	rule := make([]string, len(columns))
	for i, c := range columns {
		rule[i] = strings.Repeat("-", max(len(c), 3))
	}
	_, err = fmt.Fprintln(t.tw, strings.Join(rule, "\t"))
	return err
}

func (t *tableWriter) WriteRow(row []value.Value) error {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = strings.ReplaceAll(cell(v), "\t", " ")
	}
	t.rows++
	_, err := fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
	return err
}

func (t *tableWriter) Flush() error {
	if err := t.tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(t.tw, "(%d row(s))\n", t.rows)
	if err != nil {
		return err
	}
	return t.tw.Flush()
}

// jsonWriter streams a JSON array of objects whose keys keep column order.
type jsonWriter struct {
	w       io.Writer
	columns []string
	rows    int
}

func (j *jsonWriter) WriteHeader(columns []string) error {
	j.columns = columns
	_, err := io.WriteString(j.w, "[")
	return err
}

func (j *jsonWriter) WriteRow(row []value.Value) error {
	var b strings.Builder
	if j.rows > 0 {
		b.WriteString(",")
	}
	b.WriteString("\n  {")
	for i, v := range row {
		if i > 0 {
			b.WriteString(", ")
		}
		key, err := json.Marshal(j.columns[i])
		if err != nil {
			return err
		}
		val, err := json.Marshal(v.ToExternal())
		if err != nil {
			return fmt.Errorf("failed to encode column %s: %w", j.columns[i], err)
		}
		b.Write(key)
		b.WriteString(": ")
		b.Write(val)
	}
	b.WriteString("}")
	j.rows++
	_, err := io.WriteString(j.w, b.String())
	return err
}

func (j *jsonWriter) Flush() error {
	end := "]\n"
	if j.rows > 0 {
		end = "\n]\n"
	}
	_, err := io.WriteString(j.w, end)
	return err
}

type csvWriter struct {
	cw *csv.Writer
}

func (c *csvWriter) WriteHeader(columns []string) error {
	return c.cw.Write(columns)
}

func (c *csvWriter) WriteRow(row []value.Value) error {
	rec := make([]string, len(row))
	for i, v := range row {
		if v.IsNull() {
			continue
		}
		rec[i] = cell(v)
	}
	return c.cw.Write(rec)
}

func (c *csvWriter) Flush() error {
	c.cw.Flush()
	return c.cw.Error()
}
