// Package metrics declares the counters/gauges internal/transport and
// internal/advanced export, registered on an owned *prometheus.Registry
// rather than the global DefaultRegisterer so embedding a session never
// collides with whatever the host process already registers. Grounded
// on route-beacon-ri's internal/metrics package: a flat var block of
// CounterVec/GaugeVec/HistogramVec plus one Register-style entry point,
// here folded into an init() against the package's own Registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is this module's private metric registry. Embedders that run
// their own /metrics endpoint can mount Handler(); the admin space
// (internal/admin) does not scrape these directly — it reports
// connectivity state from Session.Peers(), not load counters — so
// these stay process-exported only, the way route-beacon-ri's server
// exposes its metrics.Register() set.
var Registry = prometheus.NewRegistry()

var (
	// FramesSentTotal counts whole (possibly since-fragmented) Network
	// Messages handed to UnicastTransport.Send, labeled by channel; the
	// multicast transport does not update it.
	FramesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenoh_pico_frames_sent_total",
			Help: "Network Messages sent, by channel.",
		},
		[]string{"channel"},
	)

	// FramesReceivedTotal counts whole Network Messages a UnicastTransport
	// delivers via Incoming, labeled by channel; the multicast transport
	// does not update it.
	FramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenoh_pico_frames_received_total",
			Help: "Network Messages received, by channel.",
		},
		[]string{"channel"},
	)

	// FragmentsInFlight tracks how many defragmentation buffers are
	// currently mid-reassembly, by channel.
	FragmentsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenoh_pico_fragments_in_flight",
			Help: "Defragmentation buffers currently accumulating fragments, by channel.",
		},
		[]string{"channel"},
	)

	// SampleMissTotal counts detected sample-sequence gaps in the
	// advanced subscriber layer.
	SampleMissTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenoh_pico_sample_miss_total",
			Help: "Sample-miss events detected by an advanced subscriber.",
		},
		[]string{"reason"},
	)

	// PeersConnected is the current count of attached transport peers.
	PeersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenoh_pico_peers_connected",
			Help: "Currently attached transport peers.",
		},
	)
)

func init() {
	Registry.MustRegister(FramesSentTotal, FramesReceivedTotal, FragmentsInFlight, SampleMissTotal, PeersConnected)
}

// Handler exposes Registry over HTTP in the standard Prometheus text
// format, for an embedder that runs its own /metrics endpoint (mirrors
// route-beacon-ri/internal/http/server.go's `mux.Handle("/metrics",
// promhttp.Handler())`, scoped to Registry instead of the default one).
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
