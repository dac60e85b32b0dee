// Package metrics defines the dmx_core_* Prometheus instrumentation shared by
// the ingest pipeline, engines, receivers and output schedulers. All
// collectors live on a dedicated registry so tests can assert on a clean
// instance.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets is the shared millisecond histogram layout.
var LatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// Metrics holds every collector exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Command pipeline
	CmdsTotal  *prometheus.CounterVec // proto, type, accepted
	AckLatency prometheus.Histogram
	PatchSize  prometheus.Gauge
	DedupHits  prometheus.Counter

	// Output scheduler (OLA naming kept for compatibility; the Enttec
	// back-end reports through the same family)
	OLAFramesTotal      *prometheus.CounterVec // universe
	OLAFramesSkipped    *prometheus.CounterVec // universe, reason
	OLALastFPS          *prometheus.GaugeVec   // universe
	OLAHTTPErrors       *prometheus.CounterVec // universe
	OLAHTTPErrorsByCode *prometheus.CounterVec // universe, code
	OLAQueueDepth       *prometheus.GaugeVec   // universe

	// Fade engine
	FadeActive       *prometheus.GaugeVec   // universe
	FadeJobsActive   *prometheus.GaugeVec   // universe
	FadeTicksTotal   *prometheus.CounterVec // universe
	FadeTickMS       prometheus.Histogram
	FadeQueueDelayMS *prometheus.HistogramVec // universe
	FadesStarted     *prometheus.CounterVec   // universe
	FadesCancelled   *prometheus.CounterVec   // universe, reason

	// sACN receiver
	SACNPacketsTotal    *prometheus.CounterVec // universe
	SACNSources         *prometheus.GaugeVec   // universe
	SACNOOOTotal        *prometheus.CounterVec // universe
	SACNPriorityCurrent *prometheus.GaugeVec   // universe

	// Fixture layer
	FixtureApplyTotal    *prometheus.CounterVec // result, reason
	FixtureAttrsTotal    *prometheus.CounterVec // attr
	FixtureReloadTotal   *prometheus.CounterVec // result
	FixtureOverlapsTotal prometheus.Counter

	// Transport
	WSClients     prometheus.Gauge
	MQTTConnected prometheus.Gauge
}

// New builds a metric set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		CmdsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_cmds_total",
			Help: "Commands received (by proto/type/accepted)",
		}, []string{"proto", "type", "accepted"}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmx_core_ack_latency_ms",
			Help:    "Ack latency histogram in ms",
			Buckets: LatencyBuckets,
		}),
		PatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmx_core_patch_size",
			Help: "Last processed patch size",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmx_core_dedup_hits_total",
			Help: "Commands dropped by the dedupe cache",
		}),

		OLAFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_ola_frames_total",
			Help: "Output frames sent per universe",
		}, []string{"universe"}),
		OLAFramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_ola_frames_skipped_total",
			Help: "Output frames skipped per universe and reason",
		}, []string{"universe", "reason"}),
		OLALastFPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_ola_last_fps",
			Help: "Last observed output FPS per universe (EMA)",
		}, []string{"universe"}),
		OLAHTTPErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_ola_http_errors_total",
			Help: "Output transport errors per universe",
		}, []string{"universe"}),
		OLAHTTPErrorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_ola_http_errors_total_by_code",
			Help: "Output transport errors per universe and code",
		}, []string{"universe", "code"}),
		OLAQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_ola_queue_depth",
			Help: "Sends suppressed by the rate guard in the current window",
		}, []string{"universe"}),

		FadeActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_fade_active",
			Help: "Channels under active fade per universe",
		}, []string{"universe"}),
		FadeJobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_fade_jobs_active",
			Help: "Active fade jobs per universe",
		}, []string{"universe"}),
		FadeTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fade_ticks_total",
			Help: "Fade engine ticks per universe",
		}, []string{"universe"}),
		FadeTickMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmx_core_fade_tick_ms",
			Help:    "Fade tick duration histogram (ms)",
			Buckets: LatencyBuckets,
		}),
		FadeQueueDelayMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dmx_core_fade_queue_delay_ms",
			Help:    "Delay between fade scheduling and first evaluation (ms)",
			Buckets: LatencyBuckets,
		}, []string{"universe"}),
		FadesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fades_started_total",
			Help: "Fade channels started per universe",
		}, []string{"universe"}),
		FadesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fades_cancelled_total",
			Help: "Fade channels cancelled per universe and reason",
		}, []string{"universe", "reason"}),

		SACNPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_sacn_packets_total",
			Help: "sACN packets received per universe",
		}, []string{"universe"}),
		SACNSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_sacn_sources",
			Help: "Active sACN sources per universe",
		}, []string{"universe"}),
		SACNOOOTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_sacn_ooo_total",
			Help: "Out-of-order sACN packets dropped per universe",
		}, []string{"universe"}),
		SACNPriorityCurrent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dmx_core_sacn_priority_current",
			Help: "Currently selected sACN priority per universe",
		}, []string{"universe"}),

		FixtureApplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fixture_apply_total",
			Help: "Fixture set requests by result and reason",
		}, []string{"result", "reason"}),
		FixtureAttrsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fixture_attrs_total",
			Help: "Fixture attribute applications",
		}, []string{"attr"}),
		FixtureReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmx_core_fixture_reload_total",
			Help: "Fixture reload results",
		}, []string{"result"}),
		FixtureOverlapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmx_core_fixture_overlaps_total",
			Help: "Fixture patch overlaps detected",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmx_core_ws_clients",
			Help: "WebSocket subscribers connected",
		}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmx_core_mqtt_connected",
			Help: "MQTT connection state",
		}),
	}

	reg.MustRegister(
		m.CmdsTotal, m.AckLatency, m.PatchSize, m.DedupHits,
		m.OLAFramesTotal, m.OLAFramesSkipped, m.OLALastFPS,
		m.OLAHTTPErrors, m.OLAHTTPErrorsByCode, m.OLAQueueDepth,
		m.FadeActive, m.FadeJobsActive, m.FadeTicksTotal, m.FadeTickMS,
		m.FadeQueueDelayMS, m.FadesStarted, m.FadesCancelled,
		m.SACNPacketsTotal, m.SACNSources, m.SACNOOOTotal, m.SACNPriorityCurrent,
		m.FixtureApplyTotal, m.FixtureAttrsTotal, m.FixtureReloadTotal, m.FixtureOverlapsTotal,
		m.WSClients, m.MQTTConnected,
	)
	return m
}

// Handler serves the registry as Prometheus text.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// U formats a universe number as a label value.
func U(universe int) string {
	return strconv.Itoa(universe)
}
