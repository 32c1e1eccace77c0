package crud

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

func newRegistry(t *testing.T) *db.Registry {
	t.Helper()
	return newRegistryWith(t, db.Options{})
}

func newRegistryWith(t *testing.T, opts db.Options) *db.Registry {
	t.Helper()
	reg, err := db.NewRegistry(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "crud.db"), db.OpenerWith(opts), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

var products = schema.Table{
	Name: "products",
	Columns: []schema.Column{
		{Name: "id", Type: value.TypeInteger, PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Type: value.TypeText, Unique: true},
		{Name: "price", Type: value.TypeReal},
		{Name: "in_stock", Type: value.TypeBoolean, Nullable: true},
	},
}

// collect drains a stream into rows.
func collect(t *testing.T, s *RowStream) [][]value.Value {
	t.Helper()
	defer s.Close()
	var rows [][]value.Value
	for s.Next() {
		rows = append(rows, append([]value.Value(nil), s.Row()...))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error = %v", err)
	}
	return rows
}

func TestTranslatorCRUD(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewTranslator(reg, nil)
	ex := NewExecutor(reg, nil)

	if err := tr.CreateTable(ctx, "", products); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if err := tr.CreateTable(ctx, "", products); !dberr.Is(err, dberr.AlreadyExists) {
		t.Errorf("second CreateTable() error = %v, want ALREADY_EXISTS", err)
	}

	id, err := tr.Insert(ctx, "", "products", value.Map{"name": value.Text("Laptop"), "price": value.Real(999.5), "in_stock": value.Bool(true)})
	if err != nil || id != 1 {
		t.Fatalf("Insert() = %d, %v, want 1", id, err)
	}
	id, err = tr.Insert(ctx, "default", "products", value.Map{"name": value.Text("Mouse"), "price": value.Real(20)})
	if err != nil || id != 2 {
		t.Fatalf("Insert() = %d, %v, want 2", id, err)
	}

	n, err := tr.Update(ctx, "", "products", value.Map{"price": value.Real(899.5)}, "name = 'Laptop'")
	if err != nil || n != 1 {
		t.Errorf("Update() = %d, %v, want 1", n, err)
	}

	s, err := ex.Execute(ctx, "", "SELECT id, name, price, in_stock FROM products ORDER BY id", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	wantTypes := []value.Type{value.TypeInteger, value.TypeText, value.TypeReal, value.TypeBoolean}
	for i, c := range s.Columns() {
		if c.Type != wantTypes[i] || !c.Declared {
			t.Errorf("column %s = %+v, want %s", c.Name, c, wantTypes[i])
		}
	}
	rows := collect(t, s)
	want := [][]value.Value{
		{value.Int(1), value.Text("Laptop"), value.Real(899.5), value.Bool(true)},
		{value.Int(2), value.Text("Mouse"), value.Real(20), value.Null()},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if !rows[i][j].Equal(want[i][j]) {
				t.Errorf("row %d col %d = %v, want %v", i, j, rows[i][j], want[i][j])
			}
		}
	}

	n, err = tr.Delete(ctx, "", "products", "price < 100")
	if err != nil || n != 1 {
		t.Errorf("Delete() = %d, %v, want 1", n, err)
	}
	if err := tr.DropTable(ctx, "", "products"); err != nil {
		t.Errorf("DropTable() error = %v", err)
	}
	if err := tr.DropTable(ctx, "", "products"); err != nil {
		t.Errorf("DropTable() of missing table error = %v", err)
	}
}

func TestTranslatorErrors(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewTranslator(reg, nil)
	if err := tr.CreateTable(ctx, "", products); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Insert(ctx, "", "products", value.Map{"name": value.Text("a"), "price": value.Real(1)}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		run  func() error
		want dberr.Kind
	}{
		{
			name: "unknown database",
			run: func() error {
				_, err := tr.Insert(ctx, "nope", "products", value.Map{"name": value.Text("b")})
				return err
			},
			want: dberr.NotFound,
		},
		{
			name: "unknown table",
			run: func() error {
				_, err := tr.Insert(ctx, "", "missing", value.Map{"name": value.Text("b")})
				return err
			},
			want: dberr.NotFound,
		},
		{
			name: "empty table name",
			run: func() error {
				_, err := tr.Delete(ctx, "", " ", "")
				return err
			},
			want: dberr.InvalidRequest,
		},
		{
			name: "duplicate unique value",
			run: func() error {
				_, err := tr.Insert(ctx, "", "products", value.Map{"name": value.Text("a"), "price": value.Real(2)})
				return err
			},
			want: dberr.ConstraintViolation,
		},
		{
			name: "missing not null column",
			run: func() error {
				_, err := tr.Insert(ctx, "", "products", value.Map{"name": value.Text("c")})
				return err
			},
			want: dberr.ConstraintViolation,
		},
		{
			name: "update without values",
			run: func() error {
				_, err := tr.Update(ctx, "", "products", nil, "id = 1")
				return err
			},
			want: dberr.InvalidRequest,
		},
		{
			name: "update unknown column",
			run: func() error {
				_, err := tr.Update(ctx, "", "products", value.Map{"colour": value.Text("red")}, "")
				return err
			},
			want: dberr.NotFound,
		},
		{
			name: "create table without columns",
			run:  func() error { return tr.CreateTable(ctx, "", schema.Table{Name: "empty"}) },
			want: dberr.InvalidRequest,
		},
		{
			name: "create table with invalid type",
			run: func() error {
				return tr.CreateTable(ctx, "", schema.Table{Name: "bad", Columns: []schema.Column{{Name: "x"}}})
			},
			want: dberr.TypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !dberr.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBatchInsert(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewTranslator(reg, nil)
	ex := NewExecutor(reg, nil)
	if err := tr.CreateTable(ctx, "", products); err != nil {
		t.Fatal(err)
	}

	count := func() int64 {
		s, err := ex.Execute(ctx, "", "SELECT COUNT(*) FROM products", nil)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		n, _ := collect(t, s)[0][0].AsInt()
		return n
	}

	// row 3 repeats a unique name, so nothing may be committed
	_, err := tr.BatchInsert(ctx, "", "products", []value.Map{
		{"name": value.Text("a"), "price": value.Real(1)},
		{"name": value.Text("b"), "price": value.Real(2)},
		{"name": value.Text("a"), "price": value.Real(3)},
	})
	if !dberr.Is(err, dberr.ConstraintViolation) {
		t.Fatalf("BatchInsert() error = %v, want CONSTRAINT_VIOLATION", err)
	}
	if n := count(); n != 0 {
		t.Errorf("%d rows committed after failed batch, want 0", n)
	}

	n, err := tr.BatchInsert(ctx, "", "products", []value.Map{
		{"name": value.Text("a"), "price": value.Real(1)},
		{"name": value.Text("b"), "price": value.Real(2), "in_stock": value.Bool(false)},
		{"id": value.Int(10), "name": value.Text("c"), "price": value.Real(3)},
	})
	if err != nil || n != 3 {
		t.Fatalf("BatchInsert() = %d, %v, want 3", n, err)
	}
	if n := count(); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	if n, err := tr.BatchInsert(ctx, "", "products", nil); err != nil || n != 0 {
		t.Errorf("empty BatchInsert() = %d, %v", n, err)
	}
}

func TestExecuteLargeStream(t *testing.T) {
	ctx := context.Background()
	ex := NewExecutor(newRegistry(t), nil)

	const total = 10000
	s, err := ex.Execute(ctx, "", fmt.Sprintf(
		"WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n WHERE x < %d) SELECT x, 'row' || x AS label FROM n", total), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	defer s.Close()

	cols := s.Columns()
	if len(cols) != 2 || cols[0].Name != "x" || cols[1].Name != "label" {
		t.Fatalf("Columns() = %+v", cols)
	}

	var seen int64
	for s.Next() {
		seen++
		if x, ok := s.Row()[0].AsInt(); !ok || x != seen {
			t.Fatalf("row %d = %v", seen, s.Row())
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if seen != total {
		t.Errorf("streamed %d rows, want %d", seen, total)
	}
}

func TestExecuteEarlyClose(t *testing.T) {
	ctx := context.Background()
	ex := NewExecutor(newRegistry(t), nil)

	s, err := ex.Execute(ctx, "", "WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n WHERE x < 100) SELECT x FROM n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Next() {
		t.Fatal("expected a row")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Next() {
		t.Error("Next() after Close() returned true")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestExecuteParameters(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewTranslator(reg, nil)
	ex := NewExecutor(reg, nil)
	if err := tr.CreateTable(ctx, "", products); err != nil {
		t.Fatal(err)
	}

	s, err := ex.Execute(ctx, "", "INSERT INTO products (name, price) VALUES (:name, :price)",
		value.Map{"name": value.Text("Desk"), "price": value.Real(150)})
	if err != nil {
		t.Fatalf("Execute(INSERT) error = %v", err)
	}
	if cols := s.Columns(); len(cols) != 1 || cols[0].Name != AffectedRowsColumn {
		t.Errorf("Columns() = %+v, want affected_rows", cols)
	}
	rows := collect(t, s)
	if len(rows) != 1 || !rows[0][0].Equal(value.Int(1)) {
		t.Errorf("affected rows = %v, want [[1]]", rows)
	}

	s, err = ex.Execute(ctx, "", "SELECT name FROM products WHERE price >= @min AND name = $name",
		value.Map{"min": value.Int(100), "name": value.Text("Desk")})
	if err != nil {
		t.Fatalf("Execute(SELECT) error = %v", err)
	}
	if rows := collect(t, s); len(rows) != 1 || !rows[0][0].Equal(value.Text("Desk")) {
		t.Errorf("rows = %v", rows)
	}

	_, err = ex.Execute(ctx, "", "SELECT * FROM products WHERE price > :min", nil)
	if !dberr.Is(err, dberr.MissingParameter) {
		t.Errorf("Execute() error = %v, want MISSING_PARAMETER", err)
	}

	for _, q := range []string{"", "SELEC 1", "SELECT * FROM missing"} {
		if _, err := ex.Execute(ctx, "", q, nil); err == nil {
			t.Errorf("Execute(%q) expected error", q)
		}
	}
	if _, err := ex.Execute(ctx, "other", "SELECT 1", nil); !dberr.Is(err, dberr.NotFound) {
		t.Errorf("Execute() on unknown database error = %v, want NOT_FOUND", err)
	}
}

func TestModifiesData(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM t", false},
		{"  insert into t values (1)", true},
		{"-- note\nUPDATE t SET a = 1", true},
		{"/* c */ DELETE FROM t", true},
		{"CREATE TABLE t (id INTEGER)", true},
		{"INSERT INTO t (a) VALUES (1) RETURNING id", false},
		{"DELETE FROM t OUTPUT deleted.id", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"PRAGMA table_info(t)", false},
		{"-- only a comment", false},
	}
	for _, tt := range tests {
		if got := modifiesData(tt.query); got != tt.want {
			t.Errorf("modifiesData(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

var samples = schema.Table{
	Name: "samples",
	Columns: []schema.Column{
		{Name: "id", Type: value.TypeInteger, PrimaryKey: true, AutoIncrement: true},
		{Name: "i", Type: value.TypeInteger, Nullable: true},
		{Name: "r", Type: value.TypeReal, Nullable: true},
		{Name: "t", Type: value.TypeText, Nullable: true},
		{Name: "b", Type: value.TypeBlob, Nullable: true},
		{Name: "f", Type: value.TypeBoolean, Nullable: true},
		{Name: "ts", Type: value.TypeTimestamp, Nullable: true},
	},
}

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		column string
		v      value.Value
	}{
		{name: "integer", column: "i", v: value.Int(42)},
		{name: "max integer", column: "i", v: value.Int(math.MaxInt64)},
		{name: "min integer", column: "i", v: value.Int(math.MinInt64)},
		{name: "real", column: "r", v: value.Real(3.25)},
		{name: "large real", column: "r", v: value.Real(-1e300)},
		{name: "text", column: "t", v: value.Text("héllo")},
		{name: "empty text", column: "t", v: value.Text("")},
		{name: "blob", column: "b", v: value.Blob([]byte{0, 1, 2, 255})},
		{name: "empty blob", column: "b", v: value.Blob([]byte{})},
		{name: "true", column: "f", v: value.Bool(true)},
		{name: "false", column: "f", v: value.Bool(false)},
		{name: "epoch", column: "ts", v: value.Timestamp(0)},
		{name: "timestamp", column: "ts", v: value.Timestamp(1700000000)},
		{name: "before epoch", column: "ts", v: value.Timestamp(-86400)},
		{name: "latest timestamp", column: "ts", v: value.Timestamp(db.MaxSQLiteEpoch)},
		{name: "earliest timestamp", column: "ts", v: value.Timestamp(-db.MaxSQLiteEpoch)},
	}
	for _, c := range samples.Columns[1:] {
		tests = append(tests, struct {
			name   string
			column string
			v      value.Value
		}{name: "null " + c.Type.String(), column: c.Name, v: value.Null()})
	}

	for _, driver := range []string{db.SQLiteDriverMattn, db.SQLiteDriverModernc} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			reg := newRegistryWith(t, db.Options{SQLiteDriver: driver})
			tr := NewTranslator(reg, nil)
			ex := NewExecutor(reg, nil)
			if err := tr.CreateTable(ctx, "", samples); err != nil {
				t.Fatal(err)
			}

			for _, tt := range tests {
				id, err := tr.Insert(ctx, "", "samples", value.Map{tt.column: tt.v})
				if err != nil {
					t.Errorf("%s: Insert() error = %v", tt.name, err)
					continue
				}
				s, err := ex.Execute(ctx, "", fmt.Sprintf("SELECT %s FROM samples WHERE id = :id", tt.column), value.Map{"id": value.Int(id)})
				if err != nil {
					t.Fatalf("%s: Execute() error = %v", tt.name, err)
				}
				rows := collect(t, s)
				if len(rows) != 1 {
					t.Fatalf("%s: got %d rows", tt.name, len(rows))
				}
				if got := rows[0][0]; !got.Equal(tt.v) {
					t.Errorf("%s: got %v (kind %v), want %v", tt.name, got, got.Kind(), tt.v)
				}
			}

			late := value.Timestamp(db.MaxSQLiteEpoch + 1)
			_, err := tr.Insert(ctx, "", "samples", value.Map{"ts": late})
			if driver == db.SQLiteDriverMattn && !dberr.Is(err, dberr.TypeMismatch) {
				t.Errorf("Insert(timestamp past the mattn range) error = %v, want TYPE_MISMATCH", err)
			}
			if driver == db.SQLiteDriverModernc && err != nil {
				t.Errorf("Insert(timestamp past the mattn range) error = %v", err)
			}
		})
	}
}

func TestStoredTypeChecks(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewTranslator(reg, nil)
	ex := NewExecutor(reg, nil)
	if err := tr.CreateTable(ctx, "", samples); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Insert(ctx, "", "samples", value.Map{"i": value.Int(1)}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		column string
		v      value.Value
	}{
		{name: "real into integer", column: "i", v: value.Real(1.5)},
		{name: "text into integer", column: "i", v: value.Text("many")},
		{name: "text into real", column: "r", v: value.Text("cheap")},
		{name: "blob into text", column: "t", v: value.Blob([]byte{1})},
		{name: "text into blob", column: "b", v: value.Text("raw")},
		{name: "integer into boolean", column: "f", v: value.Int(2)},
		{name: "text into timestamp", column: "ts", v: value.Text("soon")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals := value.Map{tt.column: tt.v}
			if _, err := tr.Insert(ctx, "", "samples", vals); !dberr.Is(err, dberr.TypeMismatch) {
				t.Errorf("Insert() error = %v, want TYPE_MISMATCH", err)
			}
			if _, err := tr.Update(ctx, "", "samples", vals, "id = 1"); !dberr.Is(err, dberr.TypeMismatch) {
				t.Errorf("Update() error = %v, want TYPE_MISMATCH", err)
			}
			n, err := tr.BatchInsert(ctx, "", "samples", []value.Map{{"i": value.Int(5)}, vals})
			if !dberr.Is(err, dberr.TypeMismatch) || n != 0 {
				t.Errorf("BatchInsert() = %d, %v, want TYPE_MISMATCH", n, err)
			}
		})
	}

	s, err := ex.Execute(ctx, "", "SELECT * FROM samples", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rows := collect(t, s); len(rows) != 1 {
		t.Errorf("SELECT * returned %d rows, want 1", len(rows))
	}
}

func TestExecuteNonFiniteReal(t *testing.T) {
	reg := newRegistry(t)
	s, err := NewExecutor(reg, nil).Execute(context.Background(), "", "SELECT 1e999", nil)
	if err != nil {
		t.Fatal(err)
	}
	rows := collect(t, s)
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	if err := rows[0][0].Encodable(); !dberr.Is(err, dberr.TypeMismatch) {
		t.Errorf("Encodable(%v) error = %v, want TYPE_MISMATCH", rows[0][0], err)
	}
}
