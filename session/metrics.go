package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a session's counters to prometheus. Every metric carries
// a const "session" label with the session id.
type Collector struct {
	s *Session

	requests        *prometheus.Desc
	remoteErrors    *prometheus.Desc
	transportErrors *prometheus.Desc
	protocolErrors  *prometheus.Desc
	bytesStreamed   *prometheus.Desc
	dials           *prometheus.Desc
	discards        *prometheus.Desc
	idle            *prometheus.Desc

	hits           *prometheus.Desc
	misses         *prometheus.Desc
	rowFetches     *prometheus.Desc
	sharedFetches  *prometheus.Desc
	tableFetches   *prometheus.Desc
	invalidations  *prometheus.Desc
	stalePopulates *prometheus.Desc
	evictions      *prometheus.Desc
	tables         *prometheus.Desc

	notifications *prometheus.Desc
	fired         *prometheus.Desc
	heldLocks     *prometheus.Desc
	unknownTables *prometheus.Desc
}

// NewCollector creates a collector for s.
func NewCollector(s *Session) *Collector {
	labels := prometheus.Labels{"session": s.id}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("mastersync_"+name, help, nil, labels)
	}
	return &Collector{
		s: s,

		requests:        desc("requests_total", "Requests sent to the master"),
		remoteErrors:    desc("remote_errors_total", "Error statuses returned by the master"),
		transportErrors: desc("transport_errors_total", "Requests lost to connection failures"),
		protocolErrors:  desc("protocol_errors_total", "Requests failed by protocol violations"),
		bytesStreamed:   desc("streamed_bytes_total", "Bytes copied out of streamed responses"),
		dials:           desc("dials_total", "Connections opened to the master"),
		discards:        desc("discarded_connections_total", "Broken connections dropped from the pool"),
		idle:            desc("idle_connections", "Connections idle in the pool"),

		hits:           desc("cache_hits_total", "Reads served from the cache"),
		misses:         desc("cache_misses_total", "Reads that went to the master"),
		rowFetches:     desc("cache_row_fetches_total", "Single row fetches"),
		sharedFetches:  desc("cache_shared_fetches_total", "Reads that joined a fetch in flight"),
		tableFetches:   desc("cache_table_fetches_total", "Whole table fetches"),
		invalidations:  desc("cache_invalidations_total", "Invalidations consumed"),
		stalePopulates: desc("cache_stale_populates_total", "Fetch results dropped because the table was invalidated meanwhile"),
		evictions:      desc("cache_evictions_total", "Rows evicted by the local cache"),
		tables:         desc("cache_tables", "Tables with a local cache"),

		notifications: desc("listener_notifications_total", "Table change notices given to the listener registry"),
		fired:         desc("listener_calls_total", "Listener callbacks run"),
		heldLocks:     desc("named_locks_held", "Named locks currently held"),
		unknownTables: desc("unknown_table_invalidations_total", "Invalidations naming a table the session does not know"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.remoteErrors
	ch <- c.transportErrors
	ch <- c.protocolErrors
	ch <- c.bytesStreamed
	ch <- c.dials
	ch <- c.discards
	ch <- c.idle

	ch <- c.hits
	ch <- c.misses
	ch <- c.rowFetches
	ch <- c.sharedFetches
	ch <- c.tableFetches
	ch <- c.invalidations
	ch <- c.stalePopulates
	ch <- c.evictions
	ch <- c.tables

	ch <- c.notifications
	ch <- c.fired
	ch <- c.heldLocks
	ch <- c.unknownTables
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.s.Stats()

	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(c.requests, st.Dispatch.Requests)
	counter(c.remoteErrors, st.Dispatch.RemoteErrors)
	counter(c.transportErrors, st.Dispatch.TransportErrors)
	counter(c.protocolErrors, st.Dispatch.ProtocolErrors)
	counter(c.bytesStreamed, st.Dispatch.BytesStreamed)
	counter(c.dials, st.Dispatch.Dials)
	counter(c.discards, st.Dispatch.Discards)
	gauge(c.idle, st.Dispatch.IdleConnections)

	counter(c.hits, st.Cache.Hits)
	counter(c.misses, st.Cache.Misses)
	counter(c.rowFetches, st.Cache.RowFetches)
	counter(c.sharedFetches, st.Cache.SharedFetches)
	counter(c.tableFetches, st.Cache.TableFetches)
	counter(c.invalidations, st.Cache.Invalidations)
	counter(c.stalePopulates, st.Cache.StalePopulates)
	counter(c.evictions, st.Cache.Evictions)
	gauge(c.tables, st.Cache.Tables)

	counter(c.notifications, st.Listeners.Notifications)
	counter(c.fired, st.Listeners.Fired)
	gauge(c.heldLocks, int64(st.HeldLocks))
	counter(c.unknownTables, st.UnknownTables)
}

func (s *Session) registerer() prometheus.Registerer {
	if s.opts.MetricsRegisterer != nil {
		return s.opts.MetricsRegisterer
	}
	return prometheus.DefaultRegisterer
}
