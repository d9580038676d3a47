package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats holds the Prometheus series the shard supervisor updates. A single
// Stats is shared by every shard a process owns and is passed to each shard
// rather than read from package-level variables.
type Stats struct {
	PacketsReceived  *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
	ShardsAlive      *prometheus.GaugeVec
	Ping             *prometheus.HistogramVec
	CacheErrors      *prometheus.CounterVec
	ForwardErrors    *prometheus.CounterVec
	IdentifyWaitTime *prometheus.HistogramVec
}

// NewStats registers and returns the shard metrics. Every series is
// registered with the default Prometheus registry, so a second call in the
// same process panics on duplicate registration.
func NewStats() *Stats {
	return &Stats{
		PacketsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_packets_received_total",
			Help: "Number of gateway payloads received, by event name and opcode.",
		}, []string{"event", "op", "shard"}),

		PacketsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_packets_sent_total",
			Help: "Number of gateway payloads sent, by opcode (only heartbeats are counted).",
		}, []string{"op", "shard"}),

		ShardsAlive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_shards_alive",
			Help: "Whether a shard currently holds a live connection.",
		}, []string{"shard"}),

		Ping: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_heartbeat_rtt_ms",
			Help:    "Heartbeat round-trip time in milliseconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"shard"}),

		CacheErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_errors_total",
			Help: "Cache mutation errors, by event kind.",
		}, []string{"kind"}),

		ForwardErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_forward_errors_total",
			Help: "HTTP forward errors, by kind (transport, worker).",
		}, []string{"kind"}),

		IdentifyWaitTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_identify_wait_seconds",
			Help:    "Time spent waiting on the identify rate limiter.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"bucket"}),
	}
}
