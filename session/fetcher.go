package session

import (
	"context"

	"github.com/huykn/mastersync/dispatch"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

// fetcher loads cache misses from the master.
type fetcher struct {
	d   *dispatch.Dispatcher
	reg *schema.Registry
}

type lookup struct {
	row   schema.Row
	found bool
}

func (f *fetcher) FetchRow(ctx context.Context, table types.TableID, key string) (schema.Row, bool, error) {
	s, err := f.reg.Lookup(table)
	if err != nil {
		return schema.Row{}, false, err
	}
	args := func(e *protocol.Encoder) error {
		if err := schema.WriteTableID(e, table); err != nil {
			return err
		}
		return e.WriteString(key)
	}
	l, err := dispatch.Result(ctx, f.d, protocol.CmdGetRow, args, func(dec *protocol.Decoder) (lookup, error) {
		row, found, err := schema.ReadOptionalRow(dec, s)
		return lookup{row, found}, err
	})
	return l.row, l.found, err
}

func (f *fetcher) FetchTable(ctx context.Context, table types.TableID) ([]schema.Row, error) {
	s, err := f.reg.Lookup(table)
	if err != nil {
		return nil, err
	}
	var rows []schema.Row
	err = f.d.Each(ctx, protocol.CmdGetTable, func(e *protocol.Encoder) error {
		return schema.WriteTableID(e, table)
	}, func(dec *protocol.Decoder) error {
		row, err := schema.ReadRow(dec, s)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
