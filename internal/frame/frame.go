// Package frame provides a small in-memory table of rows with named columns.
//
// A Frame is created per request or batch, handed to the enrichment pipeline
// which adds and fills columns in place, and then iterated in insertion order
// by the caller. Values are untyped; nil (or a NaN float) means missing.
package frame

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

var (
	// ErrNoColumn is returned when an operation names a column the frame does not have.
	ErrNoColumn = errors.New("no such column")

	// ErrNotNumeric is returned when a numeric view is requested over a column
	// holding a non-numeric value.
	ErrNotNumeric = errors.New("value is not numeric")
)

// Record is one row keyed by column name.
type Record map[string]any

// Frame is an ordered collection of records sharing a column set.
// Not safe for concurrent use.
type Frame struct {
	columns []string
	index   map[string]int
	rows    []Record
}

// New creates an empty frame with the given columns.
func New(columns ...string) *Frame {
	f := &Frame{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		f.addColumnName(c)
	}
	return f
}

func (f *Frame) addColumnName(name string) {
	if _, ok := f.index[name]; ok {
		return
	}
	f.index[name] = len(f.columns)
	f.columns = append(f.columns, name)
}

// Append adds a record. Keys outside the column set are dropped and columns
// the record lacks are stored as missing.
func (f *Frame) Append(rec Record) {
	row := make(Record, len(f.columns))
	for _, c := range f.columns {
		row[c] = rec[c]
	}
	f.rows = append(f.rows, row)
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Columns returns the column names in the order they were added.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// HasColumn reports whether the frame has the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Value returns the value at row i of column col. Missing values come back as nil.
func (f *Frame) Value(i int, col string) (any, error) {
	if !f.HasColumn(col) {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, col)
	}
	if i < 0 || i >= len(f.rows) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, len(f.rows))
	}
	v := f.rows[i][col]
	if IsMissing(v) {
		return nil, nil
	}
	return v, nil
}

// Column returns a copy of every value in the named column.
func (f *Frame) Column(col string) ([]any, error) {
	if !f.HasColumn(col) {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, col)
	}
	out := make([]any, len(f.rows))
	for i, r := range f.rows {
		if !IsMissing(r[col]) {
			out[i] = r[col]
		}
	}
	return out, nil
}

// Floats returns the named column as float64 values with a parallel presence
// mask. Missing entries are 0 with present[i] == false.
func (f *Frame) Floats(col string) (values []float64, present []bool, err error) {
	if !f.HasColumn(col) {
		return nil, nil, fmt.Errorf("%w: %q", ErrNoColumn, col)
	}
	values = make([]float64, len(f.rows))
	present = make([]bool, len(f.rows))
	for i, r := range f.rows {
		v, ok, err := ToFloat(r[col])
		if err != nil {
			return nil, nil, fmt.Errorf("column %q row %d: %w", col, i, err)
		}
		values[i], present[i] = v, ok
	}
	return values, present, nil
}

// AddColumn computes a value for every row with fn and stores it under name.
// An existing column with the same name is overwritten. The frame is left
// untouched if fn fails on any row.
func (f *Frame) AddColumn(name string, fn func(i int, r Record) (any, error)) error {
	computed := make([]any, len(f.rows))
	for i, r := range f.rows {
		v, err := fn(i, r)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		computed[i] = v
	}
	f.addColumnName(name)
	for i, r := range f.rows {
		r[name] = computed[i]
	}
	return nil
}

// FillMissing replaces every missing entry of col with v.
func (f *Frame) FillMissing(col string, v any) error {
	if !f.HasColumn(col) {
		return fmt.Errorf("%w: %q", ErrNoColumn, col)
	}
	for _, r := range f.rows {
		if IsMissing(r[col]) {
			r[col] = v
		}
	}
	return nil
}

// Rows iterates rows in insertion order. The yielded records alias frame
// storage; use Records for copies.
func (f *Frame) Rows() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i, r := range f.rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Records returns a deep copy of all rows.
func (f *Frame) Records() []Record {
	out := make([]Record, len(f.rows))
	for i, r := range f.rows {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// IsMissing reports whether v represents a missing value.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// ToFloat converts a numeric cell to float64. ok is false for missing values.
func ToFloat(v any) (f float64, ok bool, err error) {
	if IsMissing(v) {
		return 0, false, nil
	}
	switch x := v.(type) {
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case *float64:
		if x == nil {
			return 0, false, nil
		}
		return ToFloat(*x)
	case *int64:
		if x == nil {
			return 0, false, nil
		}
		return float64(*x), true, nil
	}
	return 0, false, fmt.Errorf("%w: %T", ErrNotNumeric, v)
}
