// Package schema maps server tables onto generic rows. Each table is described
// by data, a Schema of version-gated columns, instead of a hand-written type.
// The column list doubles as the table's wire layout.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/types"
)

// ErrInvalidSchema is returned when a schema definition is inconsistent.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// Kind is the value type of a column.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindString
	KindBool
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) zero() any {
	switch k {
	case KindInt:
		return int64(0)
	case KindString:
		return ""
	case KindBool:
		return false
	case KindBytes:
		return []byte{}
	case KindTime:
		return time.UnixMilli(0)
	}
	return nil
}

// Column describes one field of a table.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool

	// Since and Until bound the versions the column is on the wire for.
	Since protocol.Version
	Until protocol.Version

	// Default is the decoded value when the column is not on the wire. A nil
	// Default leaves the column unset.
	Default any

	// Validate checks a decoded or assigned non-null value.
	Validate func(v any) error
}

// Schema is the column mapping of one table.
type Schema struct {
	Table   types.TableID
	Name    string
	Key     string
	Columns []Column

	index      map[string]int
	layoutOnce sync.Once
	layout     *protocol.Layout[Row]
}

// New validates a table definition. The key column must be a non-nullable int
// or string present at every version.
func New(table types.TableID, name, key string, columns ...Column) (*Schema, error) {
	if table <= 0 {
		return nil, fmt.Errorf("%w: table id %d", ErrInvalidSchema, table)
	}
	s := &Schema{
		Table:   table,
		Name:    name,
		Key:     key,
		Columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: %s column %d has no name", ErrInvalidSchema, name, i)
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s has duplicate column %q", ErrInvalidSchema, name, c.Name)
		}
		if c.Kind < KindInt || c.Kind > KindTime {
			return nil, fmt.Errorf("%w: %s.%s has %s", ErrInvalidSchema, name, c.Name, c.Kind)
		}
		if c.Default != nil {
			d, err := normalize(c.Kind, c.Default)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s default: %v", ErrInvalidSchema, name, c.Name, err)
			}
			columns[i].Default = d
		}
		s.index[c.Name] = i
	}
	kc, ok := s.Column(key)
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s has no key column %q", ErrInvalidSchema, name, key)
	case kc.Nullable, kc.Kind != KindInt && kc.Kind != KindString:
		return nil, fmt.Errorf("%w: %s key %q must be a non-null int or string", ErrInvalidSchema, name, key)
	case !kc.Since.IsZero() || !kc.Until.IsZero():
		return nil, fmt.Errorf("%w: %s key %q cannot be version gated", ErrInvalidSchema, name, key)
	}
	if _, err := protocol.NewLayout(s.steps()...); err != nil {
		return nil, err
	}
	return s, nil
}

// Must is New for package-level schemas; it panics on error.
func Must(table types.TableID, name, key string, columns ...Column) *Schema {
	s, err := New(table, name, key, columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Column returns the column called name.
func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// Layout returns the wire layout of the table's rows.
func (s *Schema) Layout() *protocol.Layout[Row] {
	s.layoutOnce.Do(func() {
		s.layout = protocol.MustLayout(s.steps()...)
	})
	return s.layout
}

// FormatKey renders a key column value as the cache key string.
func (s *Schema) FormatKey(v any) (string, error) {
	kc, _ := s.Column(s.Key)
	n, err := normalize(kc.Kind, v)
	if err != nil {
		return "", err
	}
	if kc.Kind == KindInt {
		return strconv.FormatInt(n.(int64), 10), nil
	}
	return n.(string), nil
}

func (s *Schema) steps() []protocol.Step[Row] {
	steps := make([]protocol.Step[Row], 0, len(s.Columns))
	for _, c := range s.Columns {
		c := c
		step := protocol.Step[Row]{
			Name:   c.Name,
			Since:  c.Since,
			Until:  c.Until,
			Encode: func(e *protocol.Encoder, r *Row) error { return encodeColumn(e, c, r) },
			Decode: func(d *protocol.Decoder, r *Row) error { return decodeColumn(d, s.Name, c, r) },
		}
		if c.Default != nil {
			step.Default = func(r *Row) { r.values[c.Name] = c.Default }
		}
		steps = append(steps, step)
	}
	return steps
}

func encodeColumn(e *protocol.Encoder, c Column, r *Row) error {
	v, ok := r.values[c.Name]
	if !ok {
		v = c.Default
	}
	if c.Nullable {
		if err := e.WriteBool(v != nil); err != nil || v == nil {
			return err
		}
	} else if v == nil {
		v = c.Kind.zero()
	}
	switch c.Kind {
	case KindInt:
		return e.WriteCompactInt(v.(int64))
	case KindString:
		return e.WriteString(v.(string))
	case KindBool:
		return e.WriteBool(v.(bool))
	case KindBytes:
		return e.WriteBytes(v.([]byte))
	case KindTime:
		return e.WriteTime(v.(time.Time))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSchema, c.Kind)
}

func decodeColumn(d *protocol.Decoder, table string, c Column, r *Row) error {
	if c.Nullable {
		present, err := d.ReadBool()
		if err != nil {
			return err
		}
		if !present {
			r.values[c.Name] = nil
			return nil
		}
	}
	var v any
	var err error
	switch c.Kind {
	case KindInt:
		v, err = d.ReadCompactInt()
	case KindString:
		v, err = d.ReadString()
	case KindBool:
		v, err = d.ReadBool()
	case KindBytes:
		v, err = d.ReadBytes()
	case KindTime:
		v, err = d.ReadTime()
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidSchema, c.Kind)
	}
	if err != nil {
		return err
	}
	if c.Validate != nil {
		if verr := c.Validate(v); verr != nil {
			return &protocol.ValidationError{Field: table + "." + c.Name, Err: verr}
		}
	}
	r.values[c.Name] = v
	return nil
}

// normalize converts v to the canonical Go type stored for kind k.
func normalize(k Kind, v any) (any, error) {
	switch k {
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return append([]byte{}, b...), nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			// the wire carries milliseconds
			return time.UnixMilli(t.UnixMilli()), nil
		}
	}
	return nil, fmt.Errorf("%s column cannot hold %T", k, v)
}
