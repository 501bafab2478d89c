// Package stats exposes per-member protocol counters
// as Prometheus metrics, deliberately not wired to any pretty-printer:
// Prometheus's registry and http handler are the observability surface,
// not a bespoke reporting format.
//
// Built on github.com/prometheus/client_golang/prometheus's
// CounterVec/GaugeVec idiom.
package stats

import "github.com/prometheus/client_golang/prometheus"

// MemberLabel is the label name used to scope per-member metrics.
const MemberLabel = "member"

// Registry bundles the counters and gauges a bonding Group and its
// members update as packets flow. Callers register Registry's collectors
// with their own prometheus.Registerer; Registry itself never starts an
// HTTP server.
type Registry struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	PacketsLost     *prometheus.CounterVec
	Retransmits     *prometheus.CounterVec
	SendFailures    *prometheus.CounterVec
	Failovers       prometheus.Counter

	RTTMicros        *prometheus.GaugeVec
	CongestionWindow *prometheus.GaugeVec
	InFlight         *prometheus.GaugeVec
}

// NewRegistry constructs a Registry. namespace prefixes every metric
// name (e.g. "srt").
func NewRegistry(namespace string) *Registry {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{MemberLabel})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{MemberLabel})
	}
	return &Registry{
		PacketsSent:     counter("packets_sent_total", "data packets submitted to the transport"),
		PacketsReceived: counter("packets_received_total", "data packets accepted by the receive buffer"),
		BytesSent:       counter("bytes_sent_total", "payload bytes submitted to the transport"),
		BytesReceived:   counter("bytes_received_total", "payload bytes accepted by the receive buffer"),
		PacketsLost:     counter("packets_lost_total", "packets declared lost via NAK"),
		Retransmits:     counter("retransmits_total", "packets resent from the send buffer"),
		SendFailures:    counter("send_failures_total", "datagram sink errors observed sending"),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "backup bonding primary/backup failovers",
		}),
		RTTMicros:        gauge("rtt_micros", "smoothed round-trip time"),
		CongestionWindow: gauge("congestion_window_packets", "current congestion window"),
		InFlight:         gauge("packets_in_flight", "packets sent but not yet acknowledged"),
	}
}

// Collectors returns every collector in the Registry so a caller can
// register them in one call: `for _, c := range reg.Collectors() { registerer.MustRegister(c) }`.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.PacketsSent, r.PacketsReceived, r.BytesSent, r.BytesReceived,
		r.PacketsLost, r.Retransmits, r.SendFailures, r.Failovers,
		r.RTTMicros, r.CongestionWindow, r.InFlight,
	}
}
