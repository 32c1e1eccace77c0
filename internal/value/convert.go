package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tordrt/datasink/internal/dberr"
)

// Native converts v to a database/sql compatible parameter. Booleans become
// 0/1 integers and timestamps become epoch seconds, so every engine can store
// them in an integer column.
func (v Value) Native() any {
	switch v.kind {
	case KindInteger, KindTimestamp, KindBoolean:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		// drivers bind a nil slice as NULL
		return append([]byte{}, v.b...)
	}
	return nil
}

// FromNative reconstructs a Value from a column value returned by a driver,
// using the column's declared logical type rather than the storage type. A
// REAL supplied where INTEGER is declared fails with TypeMismatch instead of
// being truncated.
func FromNative(native any, declared Type) (Value, error) {
	if native == nil {
		return Null(), nil
	}
	switch declared {
	case TypeInteger:
		n, err := nativeInt(native)
		if err != nil {
			return Value{}, mismatch(native, declared, err)
		}
		return Int(n), nil
	case TypeReal:
		f, err := nativeReal(native)
		if err != nil {
			return Value{}, mismatch(native, declared, err)
		}
		return Real(f), nil
	case TypeText:
		switch x := native.(type) {
		case string:
			return Text(x), nil
		case []byte:
			return Text(string(x)), nil
		case time.Time:
			return Text(x.Format(time.RFC3339)), nil
		case int64, int32, int16, int8, int, float64, float32, bool:
			// Engines without declared types may hand back numbers for a TEXT
			// column; keep them as their textual form.
			return Text(formatScalar(x)), nil
		}
	case TypeBlob:
		switch x := native.(type) {
		case []byte:
			return Blob(x), nil
		case string:
			return Blob([]byte(x)), nil
		}
	case TypeBoolean:
		switch x := native.(type) {
		case bool:
			return Bool(x), nil
		default:
			n, err := nativeInt(native)
			if err != nil {
				return Value{}, mismatch(native, declared, err)
			}
			return Bool(n != 0), nil
		}
	case TypeTimestamp:
		switch x := native.(type) {
		case time.Time:
			return TimestampOf(x), nil
		case string:
			if t, err := parseTime(x); err == nil {
				return TimestampOf(t), nil
			}
		case []byte:
			if t, err := parseTime(string(x)); err == nil {
				return TimestampOf(t), nil
			}
		}
		n, err := nativeInt(native)
		if err != nil {
			return Value{}, mismatch(native, declared, err)
		}
		return Timestamp(n), nil
	}
	return Value{}, mismatch(native, declared, nil)
}

// InferNative reconstructs a Value from a driver value when no declared type
// is known (expressions, aggregates).
func InferNative(native any) Value {
	switch x := native.(type) {
	case nil:
		return Null()
	case int64:
		return Int(x)
	case int32:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int:
		return Int(int64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case float64:
		return Real(x)
	case float32:
		return Real(float64(x))
	case bool:
		return Bool(x)
	case string:
		return Text(x)
	case []byte:
		return Text(string(x))
	case time.Time:
		return TimestampOf(x)
	}
	return Text(formatScalar(native))
}

// ToExternal converts v to a JSON-like scalar. BLOBs are base64 encoded.
func (v Value) ToExternal() any {
	switch v.kind {
	case KindInteger, KindTimestamp:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return base64.StdEncoding.EncodeToString(v.b)
	case KindBoolean:
		return v.i != 0
	}
	return nil
}

// FromExternal coerces a JSON-like scalar (as produced by encoding/json with
// UseNumber, or by the TOML decoder) to the expected logical type. Integers
// are widened to REAL; a fractional or float literal for INTEGER fails.
func FromExternal(ext any, expected Type) (Value, error) {
	if ext == nil {
		return Null(), nil
	}
	switch expected {
	case TypeInteger:
		switch x := ext.(type) {
		case int64:
			return Int(x), nil
		case int:
			return Int(int64(x)), nil
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return Int(n), nil
			}
		}
	case TypeReal:
		switch x := ext.(type) {
		case float64:
			return Real(x), nil
		case int64:
			return Real(float64(x)), nil
		case int:
			return Real(float64(x)), nil
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return Real(f), nil
			}
		}
	case TypeText:
		if s, ok := ext.(string); ok {
			return Text(s), nil
		}
	case TypeBlob:
		switch x := ext.(type) {
		case []byte:
			return Blob(x), nil
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return Value{}, mismatch(ext, expected, err)
			}
			return Blob(b), nil
		}
	case TypeBoolean:
		if b, ok := ext.(bool); ok {
			return Bool(b), nil
		}
	case TypeTimestamp:
		switch x := ext.(type) {
		case int64:
			return Timestamp(x), nil
		case int:
			return Timestamp(int64(x)), nil
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return Timestamp(n), nil
			}
		case time.Time:
			return TimestampOf(x), nil
		case string:
			if strings.EqualFold(x, "CURRENT_TIMESTAMP") {
				return TimestampOf(time.Now()), nil
			}
			if t, err := parseTime(x); err == nil {
				return TimestampOf(t), nil
			}
		}
	}
	return Value{}, mismatch(ext, expected, nil)
}

// Infer converts an untyped JSON scalar into a Value: integral numbers become
// INTEGER, other numbers REAL, strings TEXT, booleans BOOLEAN, null NULL.
func Infer(ext any) (Value, error) {
	switch x := ext.(type) {
	case nil:
		return Null(), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, dberr.Wrap(dberr.TypeMismatch, err, "invalid number %q", x.String())
		}
		return Real(f), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x)), nil
		}
		return Real(x), nil
	case int64:
		return Int(x), nil
	case int:
		return Int(int64(x)), nil
	case string:
		return Text(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return TimestampOf(x), nil
	}
	return Value{}, dberr.New(dberr.TypeMismatch, "unsupported value of type %T", ext)
}

func nativeInt(native any) (int64, error) {
	switch x := native.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, errNotConvertible
}

func nativeReal(native any) (float64, error) {
	switch x := native.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	n, err := nativeInt(native)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func formatScalar(x any) string {
	switch v := x.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return strings.TrimSpace(fmt.Sprint(x))
}

type convError string

func (e convError) Error() string { return string(e) }

const errNotConvertible = convError("not convertible")

func mismatch(got any, want Type, cause error) error {
	if cause != nil && cause != errNotConvertible {
		return dberr.Wrap(dberr.TypeMismatch, cause, "cannot convert %T %v to %s", got, got, want)
	}
	return dberr.New(dberr.TypeMismatch, "cannot convert %T %v to %s", got, got, want)
}
