package db

import (
	"testing"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

func TestBindNamed(t *testing.T) {
	params := value.Map{
		"id":   value.Int(7),
		"name": value.Text("bob"),
	}
	tests := []struct {
		name     string
		dialect  Dialect
		query    string
		want     string
		wantArgs []value.Value
	}{
		{
			name:     "colon sqlite",
			dialect:  sqliteDialect,
			query:    "SELECT * FROM t WHERE id = :id AND name = :name",
			want:     "SELECT * FROM t WHERE id = ? AND name = ?",
			wantArgs: []value.Value{value.Int(7), value.Text("bob")},
		},
		{
			name:     "repeated reference postgres",
			dialect:  postgresDialect,
			query:    "SELECT :id, @id, $name",
			want:     "SELECT $1, $2, $3",
			wantArgs: []value.Value{value.Int(7), value.Int(7), value.Text("bob")},
		},
		{
			name:     "sql server placeholders",
			dialect:  sqlServerDialect,
			query:    "SELECT [a:b] FROM t WHERE id = @id",
			want:     "SELECT [a:b] FROM t WHERE id = @p1",
			wantArgs: []value.Value{value.Int(7)},
		},
		{
			name:    "literals and comments untouched",
			dialect: sqliteDialect,
			query:   "SELECT ':id', \"@name\" -- :id\n/* $name */ FROM t",
			want:    "SELECT ':id', \"@name\" -- :id\n/* $name */ FROM t",
		},
		{
			name:    "casts system variables and numbered params",
			dialect: postgresDialect,
			query:   "SELECT x::text, @@version, $1, y := 1",
			want:    "SELECT x::text, @@version, $1, y := 1",
		},
		{
			name:    "dollar quoted body",
			dialect: postgresDialect,
			query:   "SELECT $$ :id $$, $fn$ @name $fn$",
			want:    "SELECT $$ :id $$, $fn$ @name $fn$",
		},
		{
			name:     "mysql user variables",
			dialect:  mysqlDialect,
			query:    "SET @n := :id; SELECT @n, @name, @@version",
			want:     "SET @n := ?; SELECT @n, @name, @@version",
			wantArgs: []value.Value{value.Int(7)},
		},
		{
			name:     "escaped quote",
			dialect:  mysqlDialect,
			query:    "SELECT 'it''s :id', :id",
			want:     "SELECT 'it''s :id', ?",
			wantArgs: []value.Value{value.Int(7)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, err := BindNamed(tt.dialect, tt.query, params)
			if err != nil {
				t.Fatalf("BindNamed() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("query = %q, want %q", got, tt.want)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if !args[i].Equal(tt.wantArgs[i]) {
					t.Errorf("arg %d = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestBindNamedMissingParameter(t *testing.T) {
	_, _, err := BindNamed(sqliteDialect, "SELECT * FROM t WHERE a = :a AND b = :b", value.Map{"a": value.Int(1)})
	if !dberr.Is(err, dberr.MissingParameter) {
		t.Fatalf("error = %v, want MISSING_PARAMETER", err)
	}
	if want := `missing value for parameter "b"`; err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestBindNamedIgnoresUnusedParams(t *testing.T) {
	got, args, err := BindNamed(sqliteDialect, "SELECT 1", value.Map{"unused": value.Int(1)})
	if err != nil || got != "SELECT 1" || len(args) != 0 {
		t.Errorf("BindNamed() = %q, %v, %v", got, args, err)
	}
}
