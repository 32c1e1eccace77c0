package formatter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

func sampleDoc() *schema.Document {
	now := "CURRENT_TIMESTAMP"
	return &schema.Document{
		Database: schema.Info{Name: "blog", Description: "A small blog", Version: "1.0"},
		Tables: []schema.Table{
			{Name: "users", Columns: []schema.Column{
				{Name: "id", Type: value.TypeInteger, PrimaryKey: true, AutoIncrement: true},
				{Name: "email", Type: value.TypeText, Unique: true},
			}},
			{Name: "posts", Description: "Blog posts", Columns: []schema.Column{
				{Name: "id", Type: value.TypeInteger, PrimaryKey: true},
				{Name: "user_id", Type: value.TypeInteger, ForeignKey: &schema.ForeignKey{Table: "users", Column: "id"}},
				{Name: "created_at", Type: value.TypeTimestamp, Nullable: true, Default: &now},
			}},
		},
		Indexes: []schema.Index{{Table: "posts", Name: "idx_posts_user", Columns: []string{"user_id"}}},
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTextFormatter(&buf).Format(sampleDoc()); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"TABLE users (PK: id)",
		"  id: INTEGER AUTOINCREMENT NOT NULL",
		"  email: TEXT UNIQUE NOT NULL",
		"  -- Blog posts",
		"  created_at: TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		"    user_id → users.id",
		"    idx_posts_user (user_id)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestMarkdownFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewMarkdownFormatter(&buf).Format(sampleDoc()); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# blog",
		"Version: 1.0",
		"## posts",
		"- **id:** INTEGER, PK, AUTOINCREMENT, NOT NULL",
		"### References",
		"- user_id → users.id",
		"- idx_posts_user on (user_id)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestMultiFileFormatter(t *testing.T) {
	tests := []struct {
		format string
		ext    string
		want   string
	}{
		{format: FormatMarkdown, ext: ".md", want: "posts.user_id → id"},
		{format: FormatText, ext: ".txt", want: "REFERENCED BY:"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			if err := NewMultiFileFormatter(dir, tt.format).Format(sampleDoc()); err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			overview, err := os.ReadFile(filepath.Join(dir, "_overview"+tt.ext))
			if err != nil {
				t.Fatalf("overview: %v", err)
			}
			if !strings.Contains(string(overview), "posts") || !strings.Contains(string(overview), "(references: users)") {
				t.Errorf("overview = %q", overview)
			}

			users, err := os.ReadFile(filepath.Join(dir, "users"+tt.ext))
			if err != nil {
				t.Fatalf("users file: %v", err)
			}
			if !strings.Contains(string(users), tt.want) {
				t.Errorf("users file missing %q:\n%s", tt.want, users)
			}
		})
	}
}

func writeResults(t *testing.T, format string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewResultWriter(&buf, format)
	if err != nil {
		t.Fatalf("NewResultWriter() error = %v", err)
	}
	rows := [][]value.Value{
		{value.Int(1), value.Text("a,b"), value.Blob([]byte{0, 1, 2}), value.Null()},
		{value.Int(2), value.Text("c"), value.Null(), value.Timestamp(0)},
	}
	if err := w.WriteHeader([]string{"id", "name", "data", "at"}); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestResultWriterTable(t *testing.T) {
	out := writeResults(t, ResultTable)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want header, rule, 2 rows, footer:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "id") || !strings.Contains(lines[2], "AAEC") || !strings.Contains(lines[3], "1970-01-01T00:00:00Z") {
		t.Errorf("unexpected table:\n%s", out)
	}
	if lines[4] != "(2 row(s))" {
		t.Errorf("footer = %q", lines[4])
	}
}

func TestResultWriterJSON(t *testing.T) {
	out := writeResults(t, ResultJSON)
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 2 || got[0]["name"] != "a,b" || got[0]["at"] != nil || got[0]["data"] != "AAEC" {
		t.Errorf("decoded = %v", got)
	}
	if !strings.Contains(out, `{"id": 1, "name"`) {
		t.Errorf("column order not kept:\n%s", out)
	}
}

func TestResultWriterJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewResultWriter(&buf, "json")
	_ = w.WriteHeader([]string{"id"})
	_ = w.Flush()
	if buf.String() != "[]\n" {
		t.Errorf("empty result = %q", buf.String())
	}
}

func TestResultWriterCSV(t *testing.T) {
	out := writeResults(t, ResultCSV)
	want := "id,name,data,at\n1,\"a,b\",AAEC,\n2,c,,1970-01-01T00:00:00Z\n"
	if out != want {
		t.Errorf("csv = %q, want %q", out, want)
	}
}

func TestResultWriterUnknownFormat(t *testing.T) {
	if _, err := NewResultWriter(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
