// Package metrics exposes Prometheus metrics for TLS connections and the
// session cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sslkit"

// Metrics holds all collectors. A nil *Metrics ignores every update.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	CreateRejected    prometheus.Counter
	Handshakes        *prometheus.CounterVec
	BytesRead         prometheus.Counter
	BytesWritten      prometheus.Counter

	CacheEntries   prometheus.Gauge
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheInserts   prometheus.Counter
	CacheDropped   prometheus.Counter
	CacheEvictions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which keeps parallel tests independent.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Connections currently holding a slot.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_created_total",
			Help: "Connections created.",
		}),
		CreateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_rejected_total",
			Help: "Connection creations rejected because all slots were taken.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_total",
			Help: "Completed handshakes by outcome (full, resumed, failed).",
		}, []string{"outcome"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_bytes_total",
			Help: "Plaintext bytes returned by Read.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "written_bytes_total",
			Help: "Plaintext bytes accepted by Write.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "entries",
			Help: "Sessions currently cached.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "hits_total",
			Help: "Lookups that found a cached session.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "misses_total",
			Help: "Lookups that found nothing.",
		}),
		CacheInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "inserts_total",
			Help: "Sessions added to the cache.",
		}),
		CacheDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "dropped_total",
			Help: "Inserts dropped because every entry was referenced.",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session_cache", Name: "evictions_total",
			Help: "Evicted sessions by reason (lru, idle, flush, close).",
		}, []string{"reason"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsActive, m.ConnectionsTotal, m.CreateRejected, m.Handshakes,
		m.BytesRead, m.BytesWritten,
		m.CacheEntries, m.CacheHits, m.CacheMisses, m.CacheInserts, m.CacheDropped, m.CacheEvictions,
	}
}

// Unregister removes the collectors from reg.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.CreateRejected.Inc()
}

// Handshake records a handshake outcome: "full", "resumed" or "failed".
func (m *Metrics) Handshake(outcome string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Read(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) Written(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) CacheInserted(entries int) {
	if m == nil {
		return
	}
	m.CacheInserts.Inc()
	m.CacheEntries.Set(float64(entries))
}

func (m *Metrics) CacheInsertDropped() {
	if m == nil {
		return
	}
	m.CacheDropped.Inc()
}

func (m *Metrics) CacheEvicted(reason string, entries int) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(reason).Inc()
	m.CacheEntries.Set(float64(entries))
}
