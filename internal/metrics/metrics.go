// Package metrics wraps the Prometheus collectors banchod exposes and
// the MetricsSink interface handlers report through.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the narrow interface named in §1 as an external collaborator;
// the core never imports prometheus directly, only this interface.
type Sink interface {
	SessionsActive(delta int)
	MatchesActive(delta int)
	PacketsDecoded(packetID uint16)
	PacketErrors(kind string)
	BroadcastDropped(stream string)
	LockWait(seconds float64)
	LockTimeout()
	ProcessSample(cpuPercent, rssBytes float64)
}

// Registry is the concrete prometheus-backed Sink.
type Registry struct {
	sessionsActive   prometheus.Gauge
	matchesActive    prometheus.Gauge
	packetsDecoded   *prometheus.CounterVec
	packetErrors     *prometheus.CounterVec
	broadcastDropped *prometheus.CounterVec
	lockWait         prometheus.Histogram
	lockTimeouts     prometheus.Counter
	processCPU       prometheus.Gauge
	processRSS       prometheus.Gauge
}

var _ Sink = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_sessions_active",
			Help: "Number of logged-in sessions tracked by this replica.",
		}),
		matchesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_matches_active",
			Help: "Number of multiplayer matches this replica has touched.",
		}),
		packetsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_packets_decoded_total",
			Help: "Inbound packets decoded, labeled by packet id.",
		}, []string{"packet_id"}),
		packetErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_packet_errors_total",
			Help: "Wire-level decode errors, labeled by kind.",
		}, []string{"kind"}),
		broadcastDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_broadcast_dropped_total",
			Help: "Broadcasts dropped due to a full outbound queue, labeled by stream.",
		}, []string{"stream"}),
		lockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bancho_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a fenced KV lock.",
			Buckets: prometheus.DefBuckets,
		}),
		lockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bancho_lock_timeouts_total",
			Help: "Lock acquisitions that exhausted their retry budget.",
		}),
		processCPU: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_process_cpu_percent",
			Help: "Process CPU utilization sampled by the periodic worker.",
		}),
		processRSS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_process_rss_bytes",
			Help: "Process resident set size sampled by the periodic worker.",
		}),
	}
}

func (r *Registry) SessionsActive(delta int) { r.sessionsActive.Add(float64(delta)) }
func (r *Registry) MatchesActive(delta int)  { r.matchesActive.Add(float64(delta)) }
func (r *Registry) PacketsDecoded(packetID uint16) {
	r.packetsDecoded.WithLabelValues(strconv.Itoa(int(packetID))).Inc()
}
func (r *Registry) PacketErrors(kind string)         { r.packetErrors.WithLabelValues(kind).Inc() }
func (r *Registry) BroadcastDropped(stream string)   { r.broadcastDropped.WithLabelValues(stream).Inc() }
func (r *Registry) LockWait(seconds float64)         { r.lockWait.Observe(seconds) }
func (r *Registry) LockTimeout()                     { r.lockTimeouts.Inc() }
func (r *Registry) ProcessSample(cpuPercent, rssBytes float64) {
	r.processCPU.Set(cpuPercent)
	r.processRSS.Set(rssBytes)
}

func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
