package value

import (
	"encoding/json"
	"math"

	"github.com/tordrt/datasink/internal/dberr"
)

// wireValue is the JSON form of a Value: at most one field is set. An empty
// object decodes as NULL, the same as an explicit null_value.
type wireValue struct {
	Int       *int64   `json:"int_value,omitempty"`
	Real      *float64 `json:"real_value,omitempty"`
	Text      *string  `json:"text_value,omitempty"`
	Blob      *[]byte  `json:"blob_value,omitempty"`
	Bool      *bool    `json:"bool_value,omitempty"`
	Timestamp *int64   `json:"timestamp_value,omitempty"`
	Null      *bool    `json:"null_value,omitempty"`
}

// Encodable reports a TypeMismatch for values that have no wire form: NaN
// and the infinities.
func (v Value) Encodable() error {
	if v.kind == KindReal && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return dberr.New(dberr.TypeMismatch, "cannot encode non-finite real %v", v.f)
	}
	return nil
}

// MarshalJSON encodes v in the wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case KindInteger:
		w.Int = &v.i
	case KindReal:
		if err := v.Encodable(); err != nil {
			return nil, err
		}
		w.Real = &v.f
	case KindText:
		w.Text = &v.s
	case KindBlob:
		b := v.b
		if b == nil {
			b = []byte{}
		}
		w.Blob = &b
	case KindBoolean:
		b := v.i != 0
		w.Bool = &b
	case KindTimestamp:
		w.Timestamp = &v.i
	default:
		t := true
		w.Null = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. More than one populated variant is
// rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return dberr.Wrap(dberr.TypeMismatch, err, "invalid value encoding")
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return dberr.Wrap(dberr.TypeMismatch, err, "invalid value encoding")
	}
	set := 0
	for key := range raw {
		switch key {
		case "int_value", "real_value", "text_value", "blob_value", "bool_value", "timestamp_value", "null_value":
			set++
		default:
			return dberr.New(dberr.TypeMismatch, "unknown value field %q", key)
		}
	}
	if set > 1 {
		return dberr.New(dberr.TypeMismatch, "value has %d variants set, want at most one", set)
	}
	switch {
	case w.Int != nil:
		*v = Int(*w.Int)
	case w.Real != nil:
		*v = Real(*w.Real)
	case w.Text != nil:
		*v = Text(*w.Text)
	case w.Blob != nil:
		*v = Blob(*w.Blob)
	case w.Bool != nil:
		*v = Bool(*w.Bool)
	case w.Timestamp != nil:
		*v = Timestamp(*w.Timestamp)
	default:
		*v = Null()
	}
	return nil
}
