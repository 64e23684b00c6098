package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	writesTotal   *prometheus.CounterVec
	roundsTotal   prometheus.Counter
	roundEntries  prometheus.Histogram
	publishTotal  *prometheus.CounterVec
	publishBytes  prometheus.Counter
	rejectedTotal *prometheus.CounterVec
	appliedTotal  prometheus.Counter
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	clockSize     prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		writesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_store_writes_total",
				Help: "Total store writes by result",
			},
			[]string{"result"},
		),
		roundsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricemesh_gossip_rounds_total",
				Help: "Total gossip rounds that published a message",
			},
		),
		roundEntries: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricemesh_gossip_round_entries",
				Help:    "Entries drained per gossip round",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		publishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_gossip_publish_total",
				Help: "Total gossip publish attempts by result",
			},
			[]string{"result"},
		),
		publishBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricemesh_gossip_publish_bytes_total",
				Help: "Total gossip payload bytes published",
			},
		),
		rejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_gossip_rejected_total",
				Help: "Inbound gossip messages dropped, by reason (auth, decode, apply)",
			},
			[]string{"reason"},
		),
		appliedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricemesh_gossip_entries_applied_total",
				Help: "Remote entries applied to the local store",
			},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricemesh_last_price",
				Help: "Last locally written price for a key",
			},
			[]string{"key"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricemesh_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		clockSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricemesh_vector_clock_nodes",
				Help: "Node ids tracked by the local vector clock",
			},
		),
	}
}

// RecordWrite records a store write outcome.
func (r *Recorder) RecordWrite(result string) {
	r.writesTotal.WithLabelValues(result).Inc()
}

// RecordRound records a completed gossip round.
func (r *Recorder) RecordRound(entries int) {
	r.roundsTotal.Inc()
	r.roundEntries.Observe(float64(entries))
}

// RecordPublish records a publish attempt and its payload size.
func (r *Recorder) RecordPublish(result string, bytes int) {
	r.publishTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		r.publishBytes.Add(float64(bytes))
	}
}

// RecordRejected records a dropped inbound message.
func (r *Recorder) RecordRejected(reason string) {
	r.rejectedTotal.WithLabelValues(reason).Inc()
}

// RecordApplied records remote entries applied to the store.
func (r *Recorder) RecordApplied(n int) {
	if n > 0 {
		r.appliedTotal.Add(float64(n))
	}
}

// RecordLastPrice records the last locally written price for a key.
func (r *Recorder) RecordLastPrice(key string, price float64) {
	r.lastPrice.WithLabelValues(key).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordClockSize records the current vector clock width.
func (r *Recorder) RecordClockSize(n int) {
	r.clockSize.Set(float64(n))
}
