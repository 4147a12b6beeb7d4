package types

import (
	"strconv"
	"time"
)

// TableID identifies one server-side table. Ids come from a central, append-only
// enumeration and are never reused or renumbered.
type TableID int32

// String returns the decimal form of the id.
func (id TableID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Action describes what an Invalidation applies to.
type Action string

const (
	// Invalidate marks the rows matching Key stale.
	Invalidate Action = "invalidate"
	// Clear marks every row of the table stale.
	Clear Action = "clear"
)

// Invalidation is a server-delivered notice that cached rows of a table are stale.
// It is consumed exactly once by the cached table store.
type Invalidation struct {
	Table       TableID   `json:"table" msgpack:"table"`
	Key         string    `json:"key,omitempty" msgpack:"key,omitempty"` // scope key, only for Invalidate
	Action      Action    `json:"action" msgpack:"action"`
	Sender      string    `json:"sender,omitempty" msgpack:"sender,omitempty"`
	DeliveredAt time.Time `json:"delivered_at" msgpack:"delivered_at"`
}

// Scoped reports whether the invalidation targets a single key.
func (i Invalidation) Scoped() bool {
	return i.Action == Invalidate
}

// TableInvalidation returns a notice covering every row of table.
func TableInvalidation(table TableID) Invalidation {
	return Invalidation{Table: table, Action: Clear}
}

// KeyInvalidation returns a notice covering the rows of table matching key.
func KeyInvalidation(table TableID, key string) Invalidation {
	return Invalidation{Table: table, Key: key, Action: Invalidate}
}
