package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	SessionsEvicted   prometheus.Counter
	RosterBroadcasts  prometheus.Counter
	RosterFanoutSends prometheus.Counter

	// Envelope metrics
	EnvelopesInTotal  *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	EnvelopesOutTotal *prometheus.CounterVec
	SendTimeouts      prometheus.Counter

	// Transfer metrics
	TransfersActive   prometheus.Gauge
	TransfersTotal    *prometheus.CounterVec
	ChunksRelayed     prometheus.Counter
	ChunkBytesRelayed prometheus.Counter
	DuplicateChunks   prometheus.Counter
	SyncLag           prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dropwire_sessions_active",
				Help: "Currently connected sessions",
			},
		),

		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_sessions_total",
				Help: "Total sessions registered",
			},
		),

		SessionsEvicted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_sessions_evicted_total",
				Help: "Sessions evicted by the liveness sweep",
			},
		),

		RosterBroadcasts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_roster_broadcasts_total",
				Help: "Roster broadcasts performed",
			},
		),

		RosterFanoutSends: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_roster_fanout_sends_total",
				Help: "Individual roster envelopes sent",
			},
		),

		EnvelopesInTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwire_envelopes_in_total",
				Help: "Inbound envelopes by type",
			},
			[]string{"type"},
		),

		EnvelopesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwire_envelopes_dropped_total",
				Help: "Inbound envelopes dropped at the codec boundary",
			},
			[]string{"reason"},
		),

		EnvelopesOutTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwire_envelopes_out_total",
				Help: "Outbound envelopes by type",
			},
			[]string{"type"},
		),

		SendTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_send_timeouts_total",
				Help: "Outbound sends that missed the per-send deadline",
			},
		),

		TransfersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dropwire_transfers_active",
				Help: "Transfers currently in the table",
			},
		),

		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwire_transfers_total",
				Help: "Transfers by terminal outcome",
			},
			[]string{"outcome"},
		),

		ChunksRelayed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_chunks_relayed_total",
				Help: "File chunks forwarded to receivers",
			},
		),

		ChunkBytesRelayed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_chunk_bytes_relayed_total",
				Help: "Encoded chunk payload bytes forwarded",
			},
		),

		DuplicateChunks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dropwire_duplicate_chunks_total",
				Help: "Duplicate chunks absorbed without forwarding",
			},
		),

		SyncLag: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dropwire_sync_lag_percent",
				Help:    "Sender-vs-receiver progress lag at each sync emission",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
	}

	return m
}

// RecordTransferEnd records a transfer leaving the table.
func (m *Metrics) RecordTransferEnd(outcome string) {
	m.TransfersActive.Dec()
	m.TransfersTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
