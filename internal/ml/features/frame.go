package features

import (
	"fmt"
	"strconv"

	"demeter/pkg/errors"
)

// Value is one cell of a feature row: either a numeric or a categorical
// (string) value
type Value struct {
	Num         float64
	Str         string
	Categorical bool
}

// Num constructs a numeric value
func NumValue(f float64) Value {
	return Value{Num: f}
}

// StrValue constructs a categorical value
func StrValue(s string) Value {
	return Value{Str: s, Categorical: true}
}

// Float coerces the value to a number. Categorical values are parsed;
// non-parseable values become 0.0 rather than failing, per the default-fill
// policy for numeric columns.
func (v Value) Float() float64 {
	if !v.Categorical {
		return v.Num
	}
	f, err := strconv.ParseFloat(v.Str, 64)
	if err != nil {
		return 0.0
	}
	return f
}

// Text coerces the value to a string
func (v Value) Text() string {
	if v.Categorical {
		return v.Str
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Row is a single ordered feature vector. Column order is tracked explicitly
// because positional models consume values in feature-list order.
type Row struct {
	cols []string
	vals map[string]Value
}

// NewRow creates an empty row
func NewRow() *Row {
	return &Row{vals: make(map[string]Value)}
}

// FromRecord converts a raw input map into a row. Numbers become numeric
// values, strings categorical; nil values are dropped.
func FromRecord(record map[string]interface{}) *Row {
	row := NewRow()
	for key, raw := range record {
		switch v := raw.(type) {
		case nil:
			continue
		case float64:
			row.SetNum(key, v)
		case float32:
			row.SetNum(key, float64(v))
		case int:
			row.SetNum(key, float64(v))
		case int64:
			row.SetNum(key, float64(v))
		case bool:
			if v {
				row.SetNum(key, 1)
			} else {
				row.SetNum(key, 0)
			}
		case string:
			row.SetStr(key, v)
		default:
			row.SetStr(key, fmt.Sprintf("%v", v))
		}
	}
	return row
}

// Set stores a value, appending the column if it is new
func (r *Row) Set(name string, v Value) {
	if _, ok := r.vals[name]; !ok {
		r.cols = append(r.cols, name)
	}
	r.vals[name] = v
}

// SetNum stores a numeric value
func (r *Row) SetNum(name string, f float64) {
	r.Set(name, NumValue(f))
}

// SetStr stores a categorical value
func (r *Row) SetStr(name string, s string) {
	r.Set(name, StrValue(s))
}

// Get returns the value for a column
func (r *Row) Get(name string) (Value, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Num returns the numeric value of a column, 0.0 when absent
func (r *Row) Num(name string) float64 {
	v, ok := r.vals[name]
	if !ok {
		return 0.0
	}
	return v.Float()
}

// Has reports whether the column exists
func (r *Row) Has(name string) bool {
	_, ok := r.vals[name]
	return ok
}

// Columns returns the column names in insertion order
func (r *Row) Columns() []string {
	return r.cols
}

// Values returns the cell values in column order
func (r *Row) Values() []Value {
	out := make([]Value, len(r.cols))
	for i, c := range r.cols {
		out[i] = r.vals[c]
	}
	return out
}

// Floats returns all cells coerced to numbers, in column order
func (r *Row) Floats() []float64 {
	out := make([]float64, len(r.cols))
	for i, c := range r.cols {
		out[i] = r.vals[c].Float()
	}
	return out
}

// Clone returns a deep copy of the row
func (r *Row) Clone() *Row {
	out := NewRow()
	for _, c := range r.cols {
		out.Set(c, r.vals[c])
	}
	return out
}

// Select returns a new row holding exactly the given columns in the given
// order. Every requested column must exist; a missing column is a schema
// mismatch, since reconciliation fills defaults before selection runs.
func (r *Row) Select(cols []string) (*Row, error) {
	out := NewRow()
	for _, c := range cols {
		v, ok := r.vals[c]
		if !ok {
			return nil, errors.Wrapf(errors.ErrSchemaMismatch, "column %q missing from feature vector", c)
		}
		out.Set(c, v)
	}
	return out, nil
}

// Frame is an ordered collection of rows used during training-time fits.
// Rows may have heterogeneous columns; frame-level operations consult each
// row individually.
type Frame struct {
	Rows []*Row
}

// NewFrame creates a frame from rows
func NewFrame(rows ...*Row) *Frame {
	return &Frame{Rows: rows}
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.Rows)
}
