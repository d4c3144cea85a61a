package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/output"
)

// Array is a persisted output array.
type Array struct {
	Spec output.ArraySpec
	// Slots holds one decoded value per clock step; nil for unwritten
	// slots. Empty for arrays without a clock.
	Slots []any
	// Value holds the decoded value of an array without a clock.
	Value any
}

// CreateArray implements output.Backend.
func (s *Store) CreateArray(ctx context.Context, runID string, spec output.ArraySpec) error {
	if s.db == nil {
		return ErrNotOpen
	}

	var position int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT (SELECT COUNT(*) FROM arrays WHERE run_id = ?) FROM runs WHERE id = ?`), runID, runID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%q: %w", runID, output.ErrUnknownRun)
	}
	if err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}

	dims, err := json.Marshal(nonNil(spec.Dims))
	if err != nil {
		return fmt.Errorf("failed to encode dims: %w", err)
	}
	shape, err := json.Marshal(nonNilInts(spec.Shape))
	if err != nil {
		return fmt.Errorf("failed to encode shape: %w", err)
	}
	attrs, err := encodeValue(spec.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attrs: %w", err)
	}
	fill, err := encodeValue(spec.FillValue)
	if err != nil {
		return fmt.Errorf("failed to encode fill value: %w", err)
	}

	s.logger.Debug("creating array",
		slog.String("run", runID),
		slog.String("name", spec.Name),
		slog.String("clock", spec.Clock))

	if _, err := s.exec(ctx, s.db,
		`INSERT INTO arrays (run_id, name, process, variable, clock, dims, shape, dtype, fill_value, attrs, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, spec.Name, spec.Key.Process, spec.Key.Variable, spec.Clock,
		string(dims), string(shape), string(spec.DType), fill, attrs, position,
	); err != nil {
		return fmt.Errorf("failed to create array %s: %w", spec.Name, err)
	}
	return nil
}

// WriteSlot implements output.Backend. Writing the same slot twice keeps
// the last value.
func (s *Store) WriteSlot(ctx context.Context, runID, name string, index int, value any) error {
	if s.db == nil {
		return ErrNotOpen
	}

	encoded, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s[%d]: %w", name, index, err)
	}
	if _, err := s.exec(ctx, s.db,
		`INSERT INTO array_slots (run_id, name, idx, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, name, idx) DO UPDATE SET value = excluded.value`,
		runID, name, index, encoded,
	); err != nil {
		return fmt.Errorf("failed to write %s[%d]: %w", name, index, err)
	}
	return nil
}

// ListArrays returns the array specs of a run in creation order.
func (s *Store) ListArrays(ctx context.Context, runID string) ([]output.ArraySpec, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT name, process, variable, clock, dims, shape, dtype, fill_value, attrs
		 FROM arrays WHERE run_id = ? ORDER BY position`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list arrays: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var specs []output.ArraySpec
	for rows.Next() {
		spec, err := scanArraySpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating arrays: %w", err)
	}
	return specs, nil
}

// ReadArray loads an array and all of its written slots.
func (s *Store) ReadArray(ctx context.Context, runID, name string) (*Array, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT name, process, variable, clock, dims, shape, dtype, fill_value, attrs
		 FROM arrays WHERE run_id = ? AND name = ?`), runID, name)
	spec, err := scanArraySpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, output.ErrUnknownArray)
	}
	if err != nil {
		return nil, err
	}

	arr := &Array{Spec: spec}
	if spec.Clock != output.FinalClock && len(spec.Shape) > 0 {
		arr.Slots = make([]any, spec.Shape[0])
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT idx, value FROM array_slots WHERE run_id = ? AND name = ? ORDER BY idx`), runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read array %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var idx int
		var raw string
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		value, err := decodeValue(raw, spec.DType)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s[%d]: %w", name, idx, err)
		}
		switch {
		case idx < 0:
			arr.Value = value
		case idx < len(arr.Slots):
			arr.Slots[idx] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slots: %w", err)
	}
	return arr, nil
}

func scanArraySpec(row scanner) (output.ArraySpec, error) {
	var spec output.ArraySpec
	var proc, variable, dims, shape, dtype, fill, attrs string
	if err := row.Scan(&spec.Name, &proc, &variable, &spec.Clock, &dims, &shape, &dtype, &fill, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return spec, err
		}
		return spec, fmt.Errorf("failed to scan array: %w", err)
	}
	spec.Key = model.VarKey{Process: proc, Variable: variable}
	spec.DType = output.DType(dtype)

	if err := json.Unmarshal([]byte(dims), &spec.Dims); err != nil {
		return spec, fmt.Errorf("failed to decode dims of %s: %w", spec.Name, err)
	}
	if err := json.Unmarshal([]byte(shape), &spec.Shape); err != nil {
		return spec, fmt.Errorf("failed to decode shape of %s: %w", spec.Name, err)
	}
	fillValue, err := decodeValue(fill, spec.DType)
	if err != nil {
		return spec, fmt.Errorf("failed to decode fill value of %s: %w", spec.Name, err)
	}
	spec.FillValue = fillValue

	var decoded any
	if err := json.Unmarshal([]byte(attrs), &decoded); err != nil {
		return spec, fmt.Errorf("failed to decode attrs of %s: %w", spec.Name, err)
	}
	if m, ok := decoded.(map[string]any); ok {
		spec.Attrs = m
	}
	return spec, nil
}

// Non-finite floats have no JSON form and are stored as strings.
const (
	nanText    = "NaN"
	posInfText = "+Inf"
	negInfText = "-Inf"
)

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(jsonable(reflect.ValueOf(v)))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func jsonable(rv reflect.Value) any {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch {
		case math.IsNaN(f):
			return nanText
		case math.IsInf(f, 1):
			return posInfText
		case math.IsInf(f, -1):
			return negInfText
		}
		return f
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsonable(rv.Index(i))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = jsonable(iter.Value())
		}
		return out
	default:
		return rv.Interface()
	}
}

func decodeValue(raw string, dtype output.DType) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return restore(v, dtype), nil
}

// restore maps generic JSON values back to the array's element type.
func restore(v any, dtype output.DType) any {
	switch x := v.(type) {
	case []any:
		for i := range x {
			x[i] = restore(x[i], dtype)
		}
		return x
	case float64:
		if dtype == output.DTypeInt64 {
			return int64(x)
		}
		return x
	case string:
		if dtype != output.DTypeFloat64 && dtype != output.DTypeObject {
			return x
		}
		switch x {
		case nanText:
			return math.NaN()
		case posInfText:
			return math.Inf(1)
		case negInfText:
			return math.Inf(-1)
		}
		return x
	default:
		return v
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
