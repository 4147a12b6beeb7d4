package schema

import (
	"fmt"
	"sort"

	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/types"
)

// Registry maps table ids to their schemas.
type Registry struct {
	tables map[types.TableID]*Schema
}

// NewRegistry indexes schemas by table id. An id may be registered once.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{tables: make(map[types.TableID]*Schema, len(schemas))}
	for _, s := range schemas {
		if _, dup := r.tables[s.Table]; dup {
			return nil, fmt.Errorf("%w: table %d registered twice", ErrInvalidSchema, s.Table)
		}
		r.tables[s.Table] = s
	}
	return r, nil
}

// Lookup returns the schema of table, or protocol.ErrUnknownTable.
func (r *Registry) Lookup(table types.TableID) (*Schema, error) {
	s, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %d", protocol.ErrUnknownTable, table)
	}
	return s, nil
}

// Known reports whether table is registered.
func (r *Registry) Known(table types.TableID) bool {
	_, ok := r.tables[table]
	return ok
}

// Tables returns the registered ids in ascending order.
func (r *Registry) Tables() []types.TableID {
	ids := make([]types.TableID, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
