package schema

import (
	"fmt"
	"math"

	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/types"
)

// WriteRow encodes r with its table's layout at e's version.
func WriteRow(e *protocol.Encoder, r Row) error {
	return r.schema.Layout().Encode(e, &r)
}

// ReadRow decodes one row of s at d's version.
func ReadRow(d *protocol.Decoder, s *Schema) (Row, error) {
	r := Row{schema: s, values: make(map[string]any, len(s.Columns))}
	if err := s.Layout().Decode(d, &r); err != nil {
		return Row{}, err
	}
	return r, nil
}

// WriteTableID writes a table id as a compact integer.
func WriteTableID(e *protocol.Encoder, table types.TableID) error {
	return e.WriteCompactInt(int64(table))
}

// ReadTableID reads a table id and resolves it against reg. Ids reg does not
// know are protocol.ErrUnknownTable.
func ReadTableID(d *protocol.Decoder, reg *Registry) (*Schema, error) {
	table, err := readTableID(d)
	if err != nil {
		return nil, err
	}
	return reg.Lookup(table)
}

// readTableID reads a raw table id. Values outside the TableID range can
// never name a table and are not narrowed onto one.
func readTableID(d *protocol.Decoder) (types.TableID, error) {
	n, err := d.ReadCompactInt()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", protocol.ErrUnknownTable, n)
	}
	return types.TableID(n), nil
}

// WriteOptionalRow writes a found flag followed by the row when present. It is
// the response payload of a single-row lookup.
func WriteOptionalRow(e *protocol.Encoder, r Row, found bool) error {
	if err := e.WriteBool(found); err != nil || !found {
		return err
	}
	return WriteRow(e, r)
}

// ReadOptionalRow reads the payload written by WriteOptionalRow.
func ReadOptionalRow(d *protocol.Decoder, s *Schema) (Row, bool, error) {
	found, err := d.ReadBool()
	if err != nil || !found {
		return Row{}, false, err
	}
	r, err := ReadRow(d, s)
	if err != nil {
		return Row{}, false, err
	}
	return r, true, nil
}

// WriteInvalidation writes the table id and the scope key, null for a whole
// table notice.
func WriteInvalidation(e *protocol.Encoder, inv types.Invalidation) error {
	if err := WriteTableID(e, inv.Table); err != nil {
		return err
	}
	if !inv.Scoped() {
		return e.WriteNullString(nil)
	}
	return e.WriteNullString(&inv.Key)
}

// ReadInvalidation reads a notice written by WriteInvalidation. When reg is
// set the table must be known to it; a nil reg accepts any id so the caller
// can report unknown tables without ending the stream.
func ReadInvalidation(d *protocol.Decoder, reg *Registry) (types.Invalidation, error) {
	table, err := readTableID(d)
	if err != nil {
		return types.Invalidation{}, err
	}
	if reg != nil {
		if _, err := reg.Lookup(table); err != nil {
			return types.Invalidation{}, err
		}
	}
	key, err := d.ReadNullString()
	if err != nil {
		return types.Invalidation{}, err
	}
	if key == nil {
		return types.TableInvalidation(table), nil
	}
	return types.KeyInvalidation(table, *key), nil
}
