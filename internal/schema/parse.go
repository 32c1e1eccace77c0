// Package schema holds the declarative database description used to provision
// and export databases, together with its TOML file format.
package schema

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

type fileDocument struct {
	Database fileInfo                    `toml:"database"`
	Tables   []fileTable                 `toml:"tables"`
	Indexes  []fileIndex                 `toml:"indexes,omitempty"`
	Data     map[string][]map[string]any `toml:"data,omitempty"`
}

type fileInfo struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
	Version     string `toml:"version,omitempty"`
}

type fileTable struct {
	Name        string       `toml:"name"`
	Description string       `toml:"description,omitempty"`
	Columns     []fileColumn `toml:"columns"`
}

type fileColumn struct {
	Name          string          `toml:"name"`
	Type          string          `toml:"type"`
	Nullable      bool            `toml:"nullable,omitempty"`
	PrimaryKey    bool            `toml:"primary_key,omitempty"`
	Unique        bool            `toml:"unique,omitempty"`
	AutoIncrement bool            `toml:"auto_increment,omitempty"`
	Default       any             `toml:"default,omitempty"`
	ForeignKey    *fileForeignKey `toml:"foreign_key,omitempty"`
}

type fileForeignKey struct {
	Table  string `toml:"table"`
	Column string `toml:"column"`
}

type fileIndex struct {
	Table   string   `toml:"table"`
	Name    string   `toml:"name"`
	Columns []string `toml:"columns"`
	Unique  bool     `toml:"unique,omitempty"`
}

// ParseFile reads and parses a schema document from path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a TOML schema document. Unknown keys, missing required fields
// and unknown column types are rejected here rather than at DDL time.
func Parse(r io.Reader) (*Document, error) {
	var f fileDocument
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidRequest, err, "failed to parse schema document")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, dberr.New(dberr.InvalidRequest, "unknown keys in schema document: %s", strings.Join(keys, ", "))
	}
	return f.document()
}

func (f *fileDocument) document() (*Document, error) {
	if strings.TrimSpace(f.Database.Name) == "" {
		return nil, dberr.New(dberr.InvalidRequest, "database.name is required")
	}

	doc := &Document{
		Database: Info{
			Name:        f.Database.Name,
			Description: f.Database.Description,
			Version:     f.Database.Version,
		},
	}

	for i, ft := range f.Tables {
		if ft.Name == "" {
			return nil, dberr.New(dberr.InvalidRequest, "tables[%d]: name is required", i)
		}
		if len(ft.Columns) == 0 {
			return nil, dberr.New(dberr.InvalidRequest, "table %s: at least one column is required", ft.Name)
		}
		t := Table{Name: ft.Name, Description: ft.Description}
		for j, fc := range ft.Columns {
			col, err := fc.column()
			if err != nil {
				return nil, fmt.Errorf("table %s column %d: %w", ft.Name, j, err)
			}
			t.Columns = append(t.Columns, col)
		}
		doc.Tables = append(doc.Tables, t)
	}

	for i, fi := range f.Indexes {
		if fi.Table == "" || fi.Name == "" {
			return nil, dberr.New(dberr.InvalidRequest, "indexes[%d]: table and name are required", i)
		}
		if len(fi.Columns) == 0 {
			return nil, dberr.New(dberr.InvalidRequest, "index %s: at least one column is required", fi.Name)
		}
		doc.Indexes = append(doc.Indexes, Index{
			Table:   fi.Table,
			Name:    fi.Name,
			Columns: append([]string(nil), fi.Columns...),
			Unique:  fi.Unique,
		})
	}

	if len(f.Data) > 0 {
		doc.Data = make(map[string][]Row, len(f.Data))
		for table, rows := range f.Data {
			for _, r := range rows {
				doc.Data[table] = append(doc.Data[table], Row(r))
			}
		}
	}

	return doc, nil
}

func (fc fileColumn) column() (Column, error) {
	if fc.Name == "" {
		return Column{}, dberr.New(dberr.InvalidRequest, "name is required")
	}
	if fc.Type == "" {
		return Column{}, dberr.New(dberr.InvalidRequest, "column %s: type is required", fc.Name)
	}
	typ, err := value.ParseType(fc.Type)
	if err != nil {
		return Column{}, dberr.Wrap(dberr.InvalidRequest, err, "column %s", fc.Name)
	}

	col := Column{
		Name:          fc.Name,
		Type:          typ,
		Nullable:      fc.Nullable && !fc.PrimaryKey,
		PrimaryKey:    fc.PrimaryKey,
		Unique:        fc.Unique,
		AutoIncrement: fc.AutoIncrement,
	}
	if fc.Default != nil {
		def, err := defaultString(fc.Default)
		if err != nil {
			return Column{}, dberr.Wrap(dberr.InvalidRequest, err, "column %s", fc.Name)
		}
		col.Default = &def
	}
	if fc.ForeignKey != nil {
		if fc.ForeignKey.Table == "" || fc.ForeignKey.Column == "" {
			return Column{}, dberr.New(dberr.InvalidRequest, "column %s: foreign_key needs table and column", fc.Name)
		}
		col.ForeignKey = &ForeignKey{Table: fc.ForeignKey.Table, Column: fc.ForeignKey.Column}
	}
	return col, nil
}

// defaultString accepts scalar TOML literals for a default expression; the
// expression is passed through to DDL verbatim.
func defaultString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("unsupported default of type %T", v)
}

// Encode writes doc in the TOML file format. Seed data is written with
// table keys in sorted order.
func Encode(w io.Writer, doc *Document) error {
	f := fileDocument{
		Database: fileInfo{
			Name:        doc.Database.Name,
			Description: doc.Database.Description,
			Version:     doc.Database.Version,
		},
	}
	for _, t := range doc.Tables {
		ft := fileTable{Name: t.Name, Description: t.Description}
		for _, c := range t.Columns {
			fc := fileColumn{
				Name:          c.Name,
				Type:          c.Type.String(),
				Nullable:      c.Nullable,
				PrimaryKey:    c.PrimaryKey,
				Unique:        c.Unique,
				AutoIncrement: c.AutoIncrement,
			}
			if c.Default != nil {
				fc.Default = *c.Default
			}
			if c.ForeignKey != nil {
				fc.ForeignKey = &fileForeignKey{Table: c.ForeignKey.Table, Column: c.ForeignKey.Column}
			}
			ft.Columns = append(ft.Columns, fc)
		}
		f.Tables = append(f.Tables, ft)
	}
	for _, idx := range doc.Indexes {
		f.Indexes = append(f.Indexes, fileIndex{
			Table:   idx.Table,
			Name:    idx.Name,
			Columns: idx.Columns,
			Unique:  idx.Unique,
		})
	}
	if len(doc.Data) > 0 {
		f.Data = make(map[string][]map[string]any, len(doc.Data))
		for table, rows := range doc.Data {
			for _, r := range rows {
				f.Data[table] = append(f.Data[table], map[string]any(r))
			}
		}
	}

	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("failed to encode schema document: %w", err)
	}
	return nil
}

// SeedTables returns the names of tables with seed rows in document table
// order, followed by any seed tables the document does not define.
func (d *Document) SeedTables() []string {
	var out []string
	seen := make(map[string]bool, len(d.Data))
	for _, t := range d.Tables {
		if _, ok := d.Data[t.Name]; ok {
			out = append(out, t.Name)
			seen[t.Name] = true
		}
	}
	var extra []string
	for name := range d.Data {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
