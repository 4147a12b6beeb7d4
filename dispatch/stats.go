package dispatch

import "sync/atomic"

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Requests        int64
	Updates         int64
	Results         int64
	Streams         int64
	Subscriptions   int64
	RemoteErrors    int64
	TransportErrors int64
	ProtocolErrors  int64
	BytesStreamed   int64
	Dials           int64
	Discards        int64
	IdleConnections int64
}

type counters struct {
	requests        atomic.Int64
	updates         atomic.Int64
	results         atomic.Int64
	streams         atomic.Int64
	subscriptions   atomic.Int64
	remoteErrors    atomic.Int64
	transportErrors atomic.Int64
	protocolErrors  atomic.Int64
	bytesStreamed   atomic.Int64
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Requests:        d.stats.requests.Load(),
		Updates:         d.stats.updates.Load(),
		Results:         d.stats.results.Load(),
		Streams:         d.stats.streams.Load(),
		Subscriptions:   d.stats.subscriptions.Load(),
		RemoteErrors:    d.stats.remoteErrors.Load(),
		TransportErrors: d.stats.transportErrors.Load(),
		ProtocolErrors:  d.stats.protocolErrors.Load(),
		BytesStreamed:   d.stats.bytesStreamed.Load(),
		Dials:           d.pool.dials.Load(),
		Discards:        d.pool.drops.Load(),
		IdleConnections: int64(d.pool.Idle()),
	}
}
