// Package metrics exposes the session's runtime counters as
// Prometheus collectors, one GaugeVec/CounterVec per observable,
// labelled by session id, mirroring the one-field-per-metric
// promauto-registered style used throughout this codebase.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds every metric this module publishes.
type Collectors struct {
	AnchorRebases        *prometheus.CounterVec
	MasterClockFlaps      *prometheus.CounterVec
	CachedOffsetFallbacks *prometheus.CounterVec
	NTPSamplesAccepted    *prometheus.CounterVec
	NTPSamplesDiscarded   *prometheus.CounterVec
	DriftGradient         *prometheus.GaugeVec
	ResendsSent           *prometheus.CounterVec
	ResendsBackedOff      *prometheus.CounterVec
	DecryptFailures       *prometheus.CounterVec
	MalformedPacketDrops  *prometheus.CounterVec
	RingOverruns          *prometheus.CounterVec
	PCMQueueOccupancy     *prometheus.GaugeVec
}

// NewCollectors registers every metric against reg and returns the
// handle used to update them.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	label := []string{"session"}

	return &Collectors{
		AnchorRebases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_anchor_rebases_total",
			Help: "Number of times the anchor store rebased across a PTP master clock change.",
		}, label),
		MasterClockFlaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_master_clock_flaps_total",
			Help: "Number of master clock id changes observed within the flap protection window.",
		}, label),
		CachedOffsetFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_cached_offset_fallbacks_total",
			Help: "Number of anchor reads served from a cached offset instead of a fresh clock read.",
		}, label),
		NTPSamplesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_ntp_samples_accepted_total",
			Help: "Number of NTP-style timing round trips accepted into history.",
		}, label),
		NTPSamplesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_ntp_samples_discarded_total",
			Help: "Number of timing replies discarded as malformed or stale.",
		}, label),
		DriftGradient: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airplaycore_drift_gradient",
			Help: "Most recently fitted clock drift gradient.",
		}, label),
		ResendsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_resend_requests_sent_total",
			Help: "Number of resend-request packets sent.",
		}, label),
		ResendsBackedOff: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_resend_requests_backed_off_total",
			Help: "Number of resend requests suppressed by the post-error backoff window.",
		}, label),
		DecryptFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_decrypt_failures_total",
			Help: "Number of AEAD decryption failures on audio frames.",
		}, label),
		MalformedPacketDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_malformed_packet_drops_total",
			Help: "Number of packets dropped for failing to parse.",
		}, label),
		RingOverruns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airplaycore_ring_overruns_total",
			Help: "Number of frames dropped because the output ring buffer was full.",
		}, label),
		PCMQueueOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airplaycore_pcm_queue_occupancy_bytes",
			Help: "Current occupancy of the buffered-audio PCM staging queue.",
		}, label),
	}
}

// Handler returns the standard pull-model HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
