package provision

import (
	"context"
	"fmt"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/schema"
)

// Export reads the structure of a live database back into a document. Seed
// data is not exported. Tables are ordered so that referenced tables come
// before the tables that reference them, which lets the result be
// provisioned again.
func Export(ctx context.Context, b db.Backend, name string, tables []string) (*schema.Document, error) {
	ts, indexes, err := b.ExtractSchema(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to extract schema: %w", err)
	}
	return &schema.Document{
		Database: schema.Info{Name: name},
		Tables:   dependencyOrder(ts),
		Indexes:  indexes,
	}, nil
}

// dependencyOrder is a stable topological sort on foreign key references.
// Cycles and references to tables outside the set keep their input order.
func dependencyOrder(tables []schema.Table) []schema.Table {
	byName := make(map[string]int, len(tables))
	for i, t := range tables {
		byName[t.Name] = i
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(tables))
	out := make([]schema.Table, 0, len(tables))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		for _, c := range tables[i].ForeignKeys() {
			if j, ok := byName[c.ForeignKey.Table]; ok && j != i {
				visit(j)
			}
		}
		state[i] = visited
		out = append(out, tables[i])
	}
	for i := range tables {
		visit(i)
	}
	return out
}
