// Package value implements the tagged value union exchanged between callers and
// database backends, together with the conversions to driver-native parameters,
// to JSON-like external scalars and to the wire encoding used by the transport.
package value

import (
	"fmt"
	"strings"
)

// Type is the logical column type of a value.
type Type int

const (
	TypeInteger Type = iota + 1
	TypeReal
	TypeText
	TypeBlob
	TypeBoolean
	TypeTimestamp
)

var typeNames = map[Type]string{
	TypeInteger:   "INTEGER",
	TypeReal:      "REAL",
	TypeText:      "TEXT",
	TypeBlob:      "BLOB",
	TypeBoolean:   "BOOLEAN",
	TypeTimestamp: "TIMESTAMP",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Valid reports whether t is one of the six logical types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType parses a logical type name case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INTEGER":
		return TypeInteger, nil
	case "REAL":
		return TypeReal, nil
	case "TEXT":
		return TypeText, nil
	case "BLOB":
		return TypeBlob, nil
	case "BOOLEAN":
		return TypeBoolean, nil
	case "TIMESTAMP":
		return TypeTimestamp, nil
	default:
		return 0, fmt.Errorf("unknown column type: %s", s)
	}
}

// MarshalText encodes the type as its upper-case name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid column type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TypeFromDeclared maps an engine-reported column type name (SQLite decltype,
// PostgreSQL type name, MySQL/SQL Server DATA_TYPE) onto a logical type. The
// second result is false when the name is empty or unrecognised; callers fall
// back to TEXT in that case.
func TypeFromDeclared(name string) (Type, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	n = strings.TrimSuffix(n, " UNSIGNED")
	switch n {
	case "":
		return 0, false
	case "BOOLEAN", "BOOL", "BIT":
		return TypeBoolean, true
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME", "DATETIME2", "DATETIMEOFFSET", "DATE",
		"TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return TypeTimestamp, true
	case "INTEGER", "INT", "INT2", "INT4", "INT8", "BIGINT", "SMALLINT", "TINYINT",
		"MEDIUMINT", "SERIAL", "BIGSERIAL":
		return TypeInteger, true
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "NUMERIC",
		"DECIMAL", "MONEY":
		return TypeReal, true
	case "BLOB", "BYTEA", "BINARY", "VARBINARY", "IMAGE", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return TypeBlob, true
	case "TEXT", "VARCHAR", "CHAR", "NVARCHAR", "NCHAR", "NTEXT", "CHARACTER",
		"CHARACTER VARYING", "CLOB", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT", "UUID", "JSON",
		"JSONB", "ENUM":
		return TypeText, true
	}
	// SQLite affinity rules for anything else.
	switch {
	case strings.Contains(n, "INT"):
		return TypeInteger, true
	case strings.Contains(n, "CHAR"), strings.Contains(n, "CLOB"), strings.Contains(n, "TEXT"):
		return TypeText, true
	case strings.Contains(n, "BLOB"):
		return TypeBlob, true
	case strings.Contains(n, "REAL"), strings.Contains(n, "FLOA"), strings.Contains(n, "DOUB"):
		return TypeReal, true
	}
	return 0, false
}
