package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tordrt/datasink/internal/service"
	"github.com/tordrt/datasink/internal/value"
)

// decodeJSON decodes exactly one JSON value, keeping numbers exact.
func decodeJSON(data string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// parseValues converts a JSON object into column values. Integral numbers
// become INTEGER, other numbers REAL.
func parseValues(data string) (value.Map, error) {
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON data: %w", err)
	}
	if raw == nil {
		return nil, errors.New("invalid JSON data: expected an object")
	}
	return toValues(raw)
}

func toValues(raw map[string]any) (value.Map, error) {
	vals := make(value.Map, len(raw))
	for col, ext := range raw {
		v, err := value.Infer(ext)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		vals[col] = v
	}
	return vals, nil
}

// parseRows converts a JSON array of objects into batch rows.
func parseRows(data string) ([]service.BatchRow, error) {
	var raw []map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON rows: %w", err)
	}
	rows := make([]service.BatchRow, len(raw))
	for i, r := range raw {
		vals, err := toValues(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows[i] = service.BatchRow{Values: vals}
	}
	return rows, nil
}

// parseParams turns name=value pairs into named query parameters. A value
// that is valid JSON (number, true, null, "quoted") keeps its JSON type;
// anything else is text.
func parseParams(pairs []string) (value.Map, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(value.Map, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimLeft(strings.TrimSpace(name), ":@$")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (use name=value)", p)
		}

		var ext any
		if err := decodeJSON(raw, &ext); err != nil {
			params[name] = value.Text(raw)
			continue
		}
		v, err := value.Infer(ext)
		if err != nil {
			// arrays and objects are passed through as their JSON text
			params[name] = value.Text(raw)
			continue
		}
		params[name] = v
	}
	return params, nil
}

// parseColumns decodes a create-table column list. Unknown keys are
// rejected so a misspelt constraint is not silently dropped.
func parseColumns(data string) ([]service.ColumnDef, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	var cols []service.ColumnDef
	if err := dec.Decode(&cols); err != nil {
		return nil, fmt.Errorf("invalid column definitions: %w", err)
	}
	if len(cols) == 0 {
		return nil, errors.New("at least one column is required")
	}
	return cols, nil
}

func parseTableList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var list []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			list = append(list, t)
		}
	}
	return list
}
