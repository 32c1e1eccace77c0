package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind identifies which variant of a Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindBoolean
	KindTimestamp
)

// Value is an immutable tagged union. The zero Value is SQL NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Int returns an INTEGER value.
func Int(v int64) Value { return Value{kind: KindInteger, i: v} }

// Real returns a REAL value.
func Real(v float64) Value { return Value{kind: KindReal, f: v} }

// Text returns a TEXT value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob returns a BLOB value holding a private copy of v.
func Blob(v []byte) Value {
	return Value{kind: KindBlob, b: append([]byte(nil), v...)}
}

// Bool returns a BOOLEAN value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBoolean, i: 1}
	}
	return Value{kind: KindBoolean}
}

// Timestamp returns a TIMESTAMP value in Unix epoch seconds.
func Timestamp(epoch int64) Value { return Value{kind: KindTimestamp, i: epoch} }

// TimestampOf returns the TIMESTAMP value for t, truncated to whole seconds.
func TimestampOf(t time.Time) Value { return Timestamp(t.Unix()) }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Type returns the logical type of a non-null value; NULL reports false.
func (v Value) Type() (Type, bool) {
	switch v.kind {
	case KindInteger:
		return TypeInteger, true
	case KindReal:
		return TypeReal, true
	case KindText:
		return TypeText, true
	case KindBlob:
		return TypeBlob, true
	case KindBoolean:
		return TypeBoolean, true
	case KindTimestamp:
		return TypeTimestamp, true
	}
	return 0, false
}

// AsInt returns the integer payload of an INTEGER or TIMESTAMP value.
func (v Value) AsInt() (int64, bool) {
	if v.kind == KindInteger || v.kind == KindTimestamp {
		return v.i, true
	}
	return 0, false
}

func (v Value) AsReal() (float64, bool) { return v.f, v.kind == KindReal }
func (v Value) AsText() (string, bool)  { return v.s, v.kind == KindText }
func (v Value) AsBool() (bool, bool)    { return v.i != 0, v.kind == KindBoolean }

// AsBlob returns a copy of the BLOB payload.
func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return append([]byte(nil), v.b...), true
}

// Equal reports whether a and b hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindReal:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	default:
		return v.i == o.i
	}
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindInteger, KindTimestamp:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("<blob:%d bytes>", len(v.b))
	case KindBoolean:
		return strconv.FormatBool(v.i != 0)
	}
	return "NULL"
}

// Map is a column-name to value mapping, as used by insert and update requests
// and by named query parameters.
type Map map[string]Value

// Columns returns the keys of m in ascending order. Statement builders bind
// values in this order so generated SQL is deterministic.
func (m Map) Columns() []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
