package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

// Engine identifies a supported database engine.
type Engine string

const (
	EngineSQLite    Engine = "sqlite"
	EnginePostgres  Engine = "postgres"
	EngineMySQL     Engine = "mysql"
	EngineSQLServer Engine = "sqlserver"
)

// Dialect captures the SQL differences between engines that the statement
// builders need: placeholders, identifier quoting and column DDL.
type Dialect struct {
	Engine Engine

	// placeholder renders the n-th (1-based) positional parameter.
	placeholder func(n int) string
	quote       func(ident string) string
	columnType  func(c schema.Column) string
	autoIncr    func(c schema.Column) string
	// check, when set, renders an extra column constraint.
	check func(c schema.Column, quote func(string) string) string

	// LastInsertID reports whether the engine returns generated row ids.
	LastInsertID bool
	// DefaultValuesInsert is the clause used for an insert without columns.
	DefaultValuesInsert string
}

// Placeholder returns the n-th (1-based) positional parameter marker.
func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

// Quote quotes an identifier. Dotted names are quoted part by part.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

// DialectFor returns the dialect of an engine.
func DialectFor(e Engine) Dialect {
	switch e {
	case EnginePostgres:
		return postgresDialect
	case EngineMySQL:
		return mysqlDialect
	case EngineSQLServer:
		return sqlServerDialect
	default:
		return sqliteDialect
	}
}

func quoteWith(open, close string) func(string) string {
	return func(ident string) string {
		return open + strings.ReplaceAll(ident, close, close+close) + close
	}
}

func questionMark(int) string { return "?" }

var sqliteDialect = Dialect{
	Engine:      EngineSQLite,
	placeholder: questionMark,
	quote:       quoteWith(`"`, `"`),
	columnType: func(c schema.Column) string {
		// SQLite keeps the declared name, which is how logical types survive a
		// round trip through the catalog.
		return c.Type.String()
	},
	autoIncr: func(schema.Column) string { return "PRIMARY KEY AUTOINCREMENT" },
	check:    sqliteStoredType,

	LastInsertID:        true,
	DefaultValuesInsert: "DEFAULT VALUES",
}

// storedTypeSuffix ends the name of every storage class check.
const storedTypeSuffix = "_stored_type"

// sqliteStoredType pins the storage class of a column to its logical type.
// Without it SQLite keeps a REAL written to an INTEGER column as is.
func sqliteStoredType(c schema.Column, quote func(string) string) string {
	if c.AutoIncrement {
		// the rowid only holds integers
		return ""
	}
	col := quote(c.Name)
	var cond string
	switch c.Type {
	case value.TypeInteger:
		cond = fmt.Sprintf("typeof(%s) IN ('integer', 'null')", col)
	case value.TypeReal:
		cond = fmt.Sprintf("typeof(%s) IN ('real', 'integer', 'null')", col)
	case value.TypeText:
		cond = fmt.Sprintf("typeof(%s) IN ('text', 'null')", col)
	case value.TypeBlob:
		cond = fmt.Sprintf("typeof(%s) IN ('blob', 'null')", col)
	case value.TypeBoolean:
		cond = fmt.Sprintf("%s IN (0, 1)", col)
	case value.TypeTimestamp:
		// CURRENT_TIMESTAMP defaults are stored as text
		cond = fmt.Sprintf("typeof(%[1]s) IN ('integer', 'null') OR (typeof(%[1]s) = 'text' AND julianday(%[1]s) IS NOT NULL)", col)
	default:
		return ""
	}
	return fmt.Sprintf("CONSTRAINT %s CHECK (%s)", quote(c.Name+storedTypeSuffix), cond)
}

var postgresDialect = Dialect{
	Engine:      EnginePostgres,
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	quote:       quoteWith(`"`, `"`),
	columnType: func(c schema.Column) string {
		switch c.Type {
		case value.TypeInteger:
			return "BIGINT"
		case value.TypeReal:
			return "DOUBLE PRECISION"
		case value.TypeBlob:
			return "BYTEA"
		case value.TypeBoolean:
			return "BOOLEAN"
		case value.TypeTimestamp:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	},
	autoIncr: func(schema.Column) string { return "GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY" },

	DefaultValuesInsert: "DEFAULT VALUES",
}

var mysqlDialect = Dialect{
	Engine:      EngineMySQL,
	placeholder: questionMark,
	quote:       quoteWith("`", "`"),
	columnType: func(c schema.Column) string {
		switch c.Type {
		case value.TypeInteger:
			return "BIGINT"
		case value.TypeReal:
			return "DOUBLE"
		case value.TypeBlob:
			return "LONGBLOB"
		case value.TypeBoolean:
			return "TINYINT(1)"
		case value.TypeTimestamp:
			return "DATETIME"
		default:
			// TEXT columns cannot carry a key without a prefix length.
			if c.PrimaryKey || c.Unique {
				return "VARCHAR(255)"
			}
			return "TEXT"
		}
	},
	autoIncr: func(schema.Column) string { return "AUTO_INCREMENT PRIMARY KEY" },

	LastInsertID:        true,
	DefaultValuesInsert: "() VALUES ()",
}

var sqlServerDialect = Dialect{
	Engine:      EngineSQLServer,
	placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	quote:       quoteWith("[", "]"),
	columnType: func(c schema.Column) string {
		switch c.Type {
		case value.TypeInteger:
			return "BIGINT"
		case value.TypeReal:
			return "FLOAT"
		case value.TypeBlob:
			return "VARBINARY(MAX)"
		case value.TypeBoolean:
			return "BIT"
		case value.TypeTimestamp:
			return "DATETIME2"
		default:
			if c.PrimaryKey || c.Unique {
				return "NVARCHAR(450)"
			}
			return "NVARCHAR(MAX)"
		}
	},
	autoIncr: func(schema.Column) string { return "IDENTITY(1,1) PRIMARY KEY" },

	DefaultValuesInsert: "DEFAULT VALUES",
}
