package db

import (
	"fmt"
	"strings"

	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// BuildInsert renders a parameterized INSERT. Columns are bound in the order
// returned by vals.Columns(). An empty map produces the dialect's
// default-values form.
func BuildInsert(d Dialect, table string, vals value.Map) (string, []value.Value) {
	if len(vals) == 0 {
		return fmt.Sprintf("INSERT INTO %s %s", d.Quote(table), d.DefaultValuesInsert), nil
	}

	cols := vals.Columns()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]value.Value, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		marks[i] = d.Placeholder(i + 1)
		args[i] = vals[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return query, args
}

// BuildUpdate renders a parameterized UPDATE. The where clause is appended
// verbatim; a blank clause updates every row.
func BuildUpdate(d Dialect, table string, vals value.Map, where string) (string, []value.Value) {
	cols := vals.Columns()
	sets := make([]string, len(cols))
	args := make([]value.Value, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", d.Quote(c), d.Placeholder(i+1))
		args[i] = vals[c]
	}
	query := fmt.Sprintf("UPDATE %s SET %s", d.Quote(table), strings.Join(sets, ", "))
	return query + whereClause(where), args
}

// BuildDelete renders a DELETE with a verbatim where clause.
func BuildDelete(d Dialect, table, where string) string {
	return fmt.Sprintf("DELETE FROM %s", d.Quote(table)) + whereClause(where)
}

func whereClause(where string) string {
	if strings.TrimSpace(where) == "" {
		return ""
	}
	return " WHERE " + where
}

// CreateTableSQL renders the CREATE TABLE statement for t. Columns keep their
// declared order. A single auto-increment primary key uses the engine's
// identity syntax; a composite key becomes a table constraint. Foreign keys
// are emitted as table constraints so every engine enforces them.
func CreateTableSQL(d Dialect, t schema.Table) string {
	pk := t.PrimaryKey()
	defs := make([]string, 0, len(t.Columns)+len(pk)+1)

	for _, c := range t.Columns {
		var b strings.Builder
		b.WriteString(d.Quote(c.Name))
		b.WriteByte(' ')
		b.WriteString(d.columnType(c))

		singlePK := c.PrimaryKey && len(pk) == 1
		switch {
		case singlePK && c.AutoIncrement:
			b.WriteString(" " + d.autoIncr(c))
		case singlePK:
			b.WriteString(" PRIMARY KEY")
		case !c.Nullable:
			b.WriteString(" NOT NULL")
		}
		if c.Unique && !c.PrimaryKey {
			b.WriteString(" UNIQUE")
		}
		if c.Default != nil {
			b.WriteString(" DEFAULT " + *c.Default)
		}
		if d.check != nil {
			if ck := d.check(c, d.quote); ck != "" {
				b.WriteString(" " + ck)
			}
		}
		defs = append(defs, b.String())
	}

	if len(pk) > 1 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(d, pk)))
	}
	for _, c := range t.ForeignKeys() {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote(c.Name), d.Quote(c.ForeignKey.Table), d.Quote(c.ForeignKey.Column)))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(t.Name), strings.Join(defs, ", "))
}

// CreateIndexSQL renders CREATE [UNIQUE] INDEX.
func CreateIndexSQL(d Dialect, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.Quote(idx.Name), d.Quote(idx.Table), quoteAll(d, idx.Columns))
}

// DropTableSQL renders DROP TABLE IF EXISTS.
func DropTableSQL(d Dialect, table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

func quoteAll(d Dialect, idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = d.Quote(id)
	}
	return strings.Join(out, ", ")
}
