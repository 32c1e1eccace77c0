package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

func openSQLite(t *testing.T, driver string) Backend {
	t.Helper()
	b, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "test.db"), Options{SQLiteDriver: driver})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func mustExec(t *testing.T, b Backend, query string, args ...value.Value) Result {
	t.Helper()
	res, err := b.Exec(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Exec(%q) error = %v", query, err)
	}
	return res
}

func TestSQLiteExtractSchemaRoundTrip(t *testing.T) {
	b := openSQLite(t, "")
	ctx := context.Background()

	users := schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: value.TypeInteger, PrimaryKey: true, AutoIncrement: true},
			{Name: "email", Type: value.TypeText, Unique: true},
			{Name: "active", Type: value.TypeBoolean, Nullable: true},
		},
	}
	posts := schema.Table{
		Name: "posts",
		Columns: []schema.Column{
			{Name: "id", Type: value.TypeInteger, PrimaryKey: true, AutoIncrement: true},
			{Name: "user_id", Type: value.TypeInteger, ForeignKey: &schema.ForeignKey{Table: "users", Column: "id"}},
			{Name: "score", Type: value.TypeReal, Nullable: true},
			{Name: "created_at", Type: value.TypeTimestamp, Nullable: true},
		},
	}
	idx := schema.Index{Table: "posts", Name: "idx_posts_user", Columns: []string{"user_id"}}
	mustExec(t, b, CreateTableSQL(b.Dialect(), users))
	mustExec(t, b, CreateTableSQL(b.Dialect(), posts))
	mustExec(t, b, CreateIndexSQL(b.Dialect(), idx))

	tables, err := b.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(tables) != 2 || tables[0] != "posts" || tables[1] != "users" {
		t.Errorf("Tables() = %v, want [posts users]", tables)
	}

	got, indexes, err := b.ExtractSchema(ctx, []string{"users", "posts"})
	if err != nil {
		t.Fatalf("ExtractSchema() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("extracted %d tables, want 2", len(got))
	}
	for i, want := range []schema.Table{users, posts} {
		if got[i].Name != want.Name || len(got[i].Columns) != len(want.Columns) {
			t.Fatalf("table %d = %+v, want %+v", i, got[i], want)
		}
		for j, wc := range want.Columns {
			gc := got[i].Columns[j]
			if gc.Name != wc.Name || gc.Type != wc.Type || gc.Nullable != wc.Nullable ||
				gc.PrimaryKey != wc.PrimaryKey || gc.AutoIncrement != wc.AutoIncrement || gc.Unique != wc.Unique {
				t.Errorf("%s.%s = %+v, want %+v", want.Name, wc.Name, gc, wc)
			}
			if (gc.ForeignKey == nil) != (wc.ForeignKey == nil) ||
				(gc.ForeignKey != nil && *gc.ForeignKey != *wc.ForeignKey) {
				t.Errorf("%s.%s foreign key = %v, want %v", want.Name, wc.Name, gc.ForeignKey, wc.ForeignKey)
			}
		}
	}
	if len(indexes) != 1 || indexes[0].Name != "idx_posts_user" || indexes[0].Columns[0] != "user_id" {
		t.Errorf("indexes = %+v", indexes)
	}

	if _, _, err := b.ExtractSchema(ctx, []string{"missing"}); !dberr.Is(err, dberr.NotFound) {
		t.Errorf("ExtractSchema(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestSQLiteErrorClassification(t *testing.T) {
	for _, driver := range []string{SQLiteDriverMattn, SQLiteDriverModernc} {
		t.Run(driver, func(t *testing.T) {
			b := openSQLite(t, driver)
			mustExec(t, b, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)")
			mustExec(t, b, "INSERT INTO t (id, name) VALUES (1, 'a')")

			tests := []struct {
				query string
				want  dberr.Kind
			}{
				{query: "INSERT INTO t (id, name) VALUES (2, 'a')", want: dberr.ConstraintViolation},
				{query: "INSERT INTO t (id) VALUES (3)", want: dberr.ConstraintViolation},
				{query: "INSERT INTO missing (id) VALUES (1)", want: dberr.NotFound},
				{query: "INSERT INTO t VALUES (", want: dberr.SyntaxError},
				{query: "CREATE TABLE t (id INTEGER)", want: dberr.AlreadyExists},
			}
			for _, tt := range tests {
				_, err := b.Exec(context.Background(), tt.query)
				if got := dberr.KindOf(err); got != tt.want {
					t.Errorf("Exec(%q) kind = %v, want %v (err: %v)", tt.query, got, tt.want, err)
				}
			}
		})
	}
}

func TestSQLiteForeignKeysEnforced(t *testing.T) {
	b := openSQLite(t, "")
	mustExec(t, b, "CREATE TABLE parent (id INTEGER PRIMARY KEY)")
	mustExec(t, b, "CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent (id))")
	_, err := b.Exec(context.Background(), "INSERT INTO child (id, parent_id) VALUES (1, 99)")
	if !dberr.Is(err, dberr.ConstraintViolation) {
		t.Errorf("orphan insert error = %v, want CONSTRAINT_VIOLATION", err)
	}
}

func TestSQLiteLastInsertID(t *testing.T) {
	b := openSQLite(t, "")
	mustExec(t, b, "CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)")
	query, args := BuildInsert(b.Dialect(), "t", value.Map{"name": value.Text("a")})
	mustExec(t, b, query, args...)
	res := mustExec(t, b, query, args...)
	if res.LastInsertID != 2 || res.RowsAffected != 1 {
		t.Errorf("Exec() = %+v, want id 2, 1 row", res)
	}
}

func TestSQLiteTransactionRollback(t *testing.T) {
	b := openSQLite(t, "")
	ctx := context.Background()
	mustExec(t, b, "CREATE TABLE t (id INTEGER PRIMARY KEY)")

	tx, err := b.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO t (id) VALUES (?)", value.Int(1)); err != nil {
		t.Fatalf("tx.Exec() error = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	cur, err := b.Query(ctx, "SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer cur.Close()
	if !cur.Next() {
		t.Fatalf("no row: %v", cur.Err())
	}
	row, err := cur.Values()
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if n := value.InferNative(row[0]); !n.Equal(value.Int(0)) {
		t.Errorf("count after rollback = %v, want 0", n)
	}
}

func TestSQLiteMemoryDatabaseShared(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, "sqlite://:memory:", Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	mustExec(t, b, "CREATE TABLE t (id INTEGER)")
	// a second pooled connection must see the same database
	cur1, err := b.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer cur1.Close()
	cur2, err := b.Query(ctx, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("second Query() error = %v", err)
	}
	cur2.Close()
}

func TestSQLiteUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "sqlite://x.db", Options{SQLiteDriver: "cgo-free"})
	if !dberr.Is(err, dberr.InvalidRequest) {
		t.Errorf("Open() error = %v, want INVALID_REQUEST", err)
	}
}

func TestViolatesStoredType(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{msg: "CHECK constraint failed: qty_stored_type", want: true},
		{msg: "constraint failed: CHECK constraint failed: qty_stored_type (275)", want: true},
		{msg: "CHECK constraint failed: price > 0", want: false},
		{msg: "UNIQUE constraint failed: t.name", want: false},
	}
	for _, tt := range tests {
		if got := violatesStoredType(errors.New(tt.msg)); got != tt.want {
			t.Errorf("violatesStoredType(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestSQLiteMattnTimestampRange(t *testing.T) {
	b := openSQLite(t, SQLiteDriverMattn)
	mustExec(t, b, CreateTableSQL(b.Dialect(), schema.Table{
		Name:    "events",
		Columns: []schema.Column{{Name: "at", Type: value.TypeTimestamp}},
	}))

	mustExec(t, b, `INSERT INTO "events" ("at") VALUES (?)`, value.Timestamp(-MaxSQLiteEpoch))
	_, err := b.Exec(context.Background(), `INSERT INTO "events" ("at") VALUES (?)`, value.Timestamp(MaxSQLiteEpoch+1))
	if !dberr.Is(err, dberr.TypeMismatch) {
		t.Errorf("Exec(timestamp past range) error = %v, want TYPE_MISMATCH", err)
	}
}
