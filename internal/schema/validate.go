package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

// CurrentTimestamp is the default expression filled with the current time
// when a seed row omits a TIMESTAMP column.
const CurrentTimestamp = "CURRENT_TIMESTAMP"

// Validate checks the document without touching a database. Every problem
// found is reported, joined into one error. Foreign keys must name a table
// and column defined somewhere in the document; creation order is left to
// the author.
func Validate(doc *Document) error {
	var errs []error

	tables := make(map[string]*Table, len(doc.Tables))
	for i := range doc.Tables {
		t := &doc.Tables[i]
		if _, dup := tables[t.Name]; dup {
			errs = append(errs, dberr.New(dberr.AlreadyExists, "table %s is defined more than once", t.Name))
			continue
		}
		tables[t.Name] = t
		errs = append(errs, validateColumns(t)...)
	}

	for _, t := range doc.Tables {
		for _, c := range t.ForeignKeys() {
			target, ok := tables[c.ForeignKey.Table]
			if !ok {
				errs = append(errs, dberr.New(dberr.UnknownForeignKeyTarget,
					"%s.%s references unknown table %s", t.Name, c.Name, c.ForeignKey.Table))
				continue
			}
			if _, ok := target.Column(c.ForeignKey.Column); !ok {
				errs = append(errs, dberr.New(dberr.UnknownForeignKeyTarget,
					"%s.%s references unknown column %s.%s", t.Name, c.Name, c.ForeignKey.Table, c.ForeignKey.Column))
			}
		}
	}

	indexNames := make(map[string]bool, len(doc.Indexes))
	for _, idx := range doc.Indexes {
		if indexNames[idx.Name] {
			errs = append(errs, dberr.New(dberr.AlreadyExists, "index %s is defined more than once", idx.Name))
		}
		indexNames[idx.Name] = true

		t, ok := tables[idx.Table]
		if !ok {
			errs = append(errs, dberr.New(dberr.NotFound, "index %s: unknown table %s", idx.Name, idx.Table))
			continue
		}
		for _, col := range idx.Columns {
			if _, ok := t.Column(col); !ok {
				errs = append(errs, dberr.New(dberr.NotFound, "index %s: unknown column %s.%s", idx.Name, idx.Table, col))
			}
		}
	}

	now := time.Now()
	for _, name := range doc.SeedTables() {
		t, ok := tables[name]
		if !ok {
			errs = append(errs, dberr.New(dberr.NotFound, "seed data for unknown table %s", name))
			continue
		}
		for i, row := range doc.Data[name] {
			if _, err := t.SeedValues(row, now); err != nil {
				errs = append(errs, fmt.Errorf("seed row %d of %s: %w", i+1, name, err))
			}
		}
	}

	return errors.Join(errs...)
}

func validateColumns(t *Table) []error {
	var errs []error
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			errs = append(errs, dberr.New(dberr.AlreadyExists, "table %s: column %s is defined more than once", t.Name, c.Name))
		}
		seen[c.Name] = true
	}

	pk := t.PrimaryKey()
	for _, c := range t.Columns {
		if !c.AutoIncrement {
			continue
		}
		if c.Type != value.TypeInteger || !c.PrimaryKey || len(pk) != 1 {
			errs = append(errs, dberr.New(dberr.InvalidRequest,
				"table %s: auto_increment column %s must be the single INTEGER primary key", t.Name, c.Name))
		}
	}
	return errs
}

// SeedValues converts a seed row into typed values following the table's
// column order. Auto-increment columns may be omitted and are then assigned
// by the database; a missing TIMESTAMP column whose default is
// CURRENT_TIMESTAMP gets now. A missing NOT NULL column without a default is
// rejected.
func (t *Table) SeedValues(row Row, now time.Time) (value.Map, error) {
	for col := range row {
		if _, ok := t.Column(col); !ok {
			return nil, dberr.New(dberr.NotFound, "unknown column %s.%s", t.Name, col)
		}
	}

	vals := make(value.Map, len(row))
	for _, c := range t.Columns {
		lit, ok := row[c.Name]
		if ok {
			v, err := value.FromExternal(lit, c.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			vals[c.Name] = v
			continue
		}
		switch {
		case c.AutoIncrement:
		case c.Default != nil:
			if c.Type == value.TypeTimestamp && strings.EqualFold(*c.Default, CurrentTimestamp) {
				vals[c.Name] = value.TimestampOf(now)
			}
		case !c.Nullable:
			return nil, dberr.New(dberr.ConstraintViolation, "missing value for NOT NULL column %s", c.Name)
		}
	}
	return vals, nil
}

// Fingerprint hashes the structural part of a document: tables with their
// columns, and indexes. Descriptions, defaults and seed data are excluded, so
// a provisioned document and its re-export fingerprint the same. Tables and
// indexes are compared as sets; column order is significant.
func Fingerprint(doc *Document) uint64 {
	var b strings.Builder

	tables := append([]Table(nil), doc.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	for _, t := range tables {
		fmt.Fprintf(&b, "table %s\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s null=%t pk=%t unique=%t auto=%t",
				c.Name, c.Type, c.Nullable && !c.PrimaryKey, c.PrimaryKey, c.Unique && !c.PrimaryKey, c.AutoIncrement)
			if c.ForeignKey != nil {
				fmt.Fprintf(&b, " fk=%s.%s", c.ForeignKey.Table, c.ForeignKey.Column)
			}
			b.WriteByte('\n')
		}
	}

	indexes := append([]Index(nil), doc.Indexes...)
	sort.Slice(indexes, func(i, j int) bool {
		if indexes[i].Table != indexes[j].Table {
			return indexes[i].Table < indexes[j].Table
		}
		return indexes[i].Name < indexes[j].Name
	})
	for _, idx := range indexes {
		fmt.Fprintf(&b, "index %s on %s(%s) unique=%t\n", idx.Name, idx.Table, strings.Join(idx.Columns, ","), idx.Unique)
	}

	return xxh3.HashString(b.String())
}
