package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giganbyte/overlay-server/internal/stats"
)

// StatsSource exposes the aggregator state scraped on each collection.
type StatsSource interface {
	Stats() stats.Stats
	Cumulative() stats.Cumulative
	Session() stats.Session
}

// Metrics holds all application metrics
type Metrics struct {
	// Analyzer counters
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64
	SourceErrors    atomic.Uint64

	// Detection counters
	DetectionsRaw       atomic.Uint64 // Before confidence filtering
	DetectionsPublished atomic.Uint64

	// WebRTC data channel
	ActiveClients       atomic.Uint64
	TotalClients        atomic.Uint64
	WebRTCEventsSent    atomic.Uint64
	WebRTCEventsDropped atomic.Uint64

	// Session export
	SessionsExported atomic.Uint64
	ExportBytes      atomic.Uint64
	ExportErrors     atomic.Uint64

	ViewportUpdates atomic.Uint64

	inference prometheus.Histogram

	registry  *prometheus.Registry
	bindStats sync.Once
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_inference_duration_seconds",
			Help:    "Per-frame inference duration",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.inference)

	m.counter("overlay_frames_processed_total", "Total frames analyzed", &m.FramesProcessed)
	m.counter("overlay_frames_dropped_total", "Frames dropped because the consumer was behind", &m.FramesDropped)
	m.counter("overlay_source_errors_total", "Detection source errors", &m.SourceErrors)

	m.counter("overlay_detections_raw_total", "Detections produced by the model", &m.DetectionsRaw)
	m.counter("overlay_detections_published_total", "Detections above the confidence threshold", &m.DetectionsPublished)

	m.gauge("overlay_webrtc_active_clients", "Number of connected data channel clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
	m.counter("overlay_webrtc_clients_total", "Total data channel clients connected", &m.TotalClients)
	m.counter("overlay_webrtc_events_sent_total", "Detection events sent over data channels", &m.WebRTCEventsSent)
	m.counter("overlay_webrtc_events_dropped_total", "Detection events dropped for slow data channels", &m.WebRTCEventsDropped)

	m.counter("overlay_sessions_exported_total", "Recording sessions exported", &m.SessionsExported)
	m.counter("overlay_export_bytes_total", "Bytes written by session exports", &m.ExportBytes)
	m.counter("overlay_export_errors_total", "Failed session exports", &m.ExportErrors)

	m.counter("overlay_viewport_updates_total", "Accepted viewport updates", &m.ViewportUpdates)
}

// BindStats exports the aggregator's published stats as gauges. Only the
// first call has an effect.
func (m *Metrics) BindStats(src StatsSource) {
	m.bindStats.Do(func() {
		m.gauge("overlay_fps", "Frame rate of the last window",
			func() float64 { return src.Stats().FPS })
		m.gauge("overlay_fps_avg", "Average frame rate since reset",
			func() float64 { return src.Cumulative().AvgFPS() })
		m.gauge("overlay_inference_ms", "Most recent inference time in the last window",
			func() float64 { return ms(src.Stats().InferenceTime) })
		m.gauge("overlay_inference_avg_ms", "Average inference time since reset",
			func() float64 { return ms(src.Cumulative().AvgInferenceTime()) })
		m.gauge("overlay_ui_refresh_rate", "UI refreshes in the last window",
			func() float64 { return float64(src.Stats().UIRefreshRate) })
		m.gauge("overlay_recording_status", "Recording status (0=idle, 1=recording, 2=processing)",
			func() float64 { return float64(src.Session().Status) })
		m.gauge("overlay_recording_snapshots", "Snapshots captured by the current session",
			func() float64 { return float64(len(src.Session().Snapshots)) })
	})
}

// ObserveInference records one inference duration.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
