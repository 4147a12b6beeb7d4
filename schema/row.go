package schema

import (
	"fmt"
	"time"

	"github.com/huykn/mastersync/types"
)

// Row is one record of a table: (table id, key) mapped to column values.
// Rows are immutable; With returns a modified copy.
type Row struct {
	schema *Schema
	values map[string]any
}

// NewRow builds a row of s from column values. Ints may be given as int, int32
// or int64. The key column is required; other missing columns encode as their
// default.
func NewRow(s *Schema, values map[string]any) (Row, error) {
	r := Row{schema: s, values: make(map[string]any, len(values))}
	for name, v := range values {
		if err := r.set(name, v); err != nil {
			return Row{}, err
		}
	}
	if !r.Has(s.Key) {
		return Row{}, fmt.Errorf("%w: %s row without key %q", ErrInvalidSchema, s.Name, s.Key)
	}
	return r, nil
}

// MustRow is NewRow that panics on error, for tests and fixtures.
func MustRow(s *Schema, values map[string]any) Row {
	r, err := NewRow(s, values)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Row) set(name string, v any) error {
	c, ok := r.schema.Column(name)
	if !ok {
		return fmt.Errorf("%w: %s has no column %q", ErrInvalidSchema, r.schema.Name, name)
	}
	if v == nil {
		if !c.Nullable {
			return fmt.Errorf("%w: %s.%s is not nullable", ErrInvalidSchema, r.schema.Name, name)
		}
		r.values[name] = nil
		return nil
	}
	n, err := normalize(c.Kind, v)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrInvalidSchema, r.schema.Name, name, err)
	}
	if c.Validate != nil {
		if err := c.Validate(n); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalidSchema, r.schema.Name, name, err)
		}
	}
	r.values[name] = n
	return nil
}

// IsZero reports whether r is the zero Row.
func (r Row) IsZero() bool {
	return r.schema == nil
}

func (r Row) Schema() *Schema {
	return r.schema
}

func (r Row) Table() types.TableID {
	return r.schema.Table
}

// Key returns the primary key rendered as the cache key string.
func (r Row) Key() string {
	if r.schema == nil {
		return ""
	}
	k, err := r.schema.FormatKey(r.values[r.schema.Key])
	if err != nil {
		return ""
	}
	return k
}

// Has reports whether the column holds a non-null value.
func (r Row) Has(name string) bool {
	return r.values[name] != nil
}

// Value returns the raw column value, nil when unset or null.
func (r Row) Value(name string) any {
	v := r.values[name]
	if b, ok := v.([]byte); ok {
		return append([]byte{}, b...)
	}
	return v
}

func (r Row) Int(name string) (int64, bool) {
	v, ok := r.values[name].(int64)
	return v, ok
}

// NullInt returns nil when the column is unset or null.
func (r Row) NullInt(name string) *int64 {
	v, ok := r.values[name].(int64)
	if !ok {
		return nil
	}
	return &v
}

func (r Row) String(name string) (string, bool) {
	v, ok := r.values[name].(string)
	return v, ok
}

// NullString returns nil when the column is unset or null.
func (r Row) NullString(name string) *string {
	v, ok := r.values[name].(string)
	if !ok {
		return nil
	}
	return &v
}

func (r Row) Bool(name string) (bool, bool) {
	v, ok := r.values[name].(bool)
	return v, ok
}

func (r Row) Bytes(name string) ([]byte, bool) {
	v, ok := r.values[name].([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte{}, v...), true
}

func (r Row) Time(name string) (time.Time, bool) {
	v, ok := r.values[name].(time.Time)
	return v, ok
}

// Values returns a copy of the row's column values.
func (r Row) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		if b, ok := v.([]byte); ok {
			v = append([]byte{}, b...)
		}
		out[k] = v
	}
	return out
}

// With returns a copy of r with column name set to v. The key column cannot
// be changed.
func (r Row) With(name string, v any) (Row, error) {
	if name == r.schema.Key {
		return Row{}, fmt.Errorf("%w: %s key %q is immutable", ErrInvalidSchema, r.schema.Name, name)
	}
	out := Row{schema: r.schema, values: make(map[string]any, len(r.values)+1)}
	for k, val := range r.values {
		out.values[k] = val
	}
	if err := out.set(name, v); err != nil {
		return Row{}, err
	}
	return out, nil
}

func (r Row) GoString() string {
	if r.schema == nil {
		return "schema.Row{}"
	}
	return fmt.Sprintf("schema.Row{%s %s %v}", r.schema.Name, r.Key(), r.values)
}
