package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a dedicated registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the bridge counters. A nil *AppMetrics is valid and records nothing.
type AppMetrics struct {
	ConnOpened       prometheus.Counter
	ConnClosed       prometheus.Counter
	ConnActive       prometheus.Gauge
	FramesTotal      *prometheus.CounterVec // labels: kind
	FramesDropped    prometheus.Counter
	ProcessorErrors  *prometheus.CounterVec // labels: op
	WriteErrors      prometheus.Counter
	CloseErrors      prometheus.Counter
	UpgradesRejected *prometheus.CounterVec // labels: reason
}

func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		ConnOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsbridge_connections_opened_total",
			Help: "Connections that completed open.",
		}),
		ConnClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsbridge_connections_closed_total",
			Help: "Connections whose processor was closed.",
		}),
		ConnActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wsbridge_connections_active",
			Help: "Connections with an attached processor.",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsbridge_frames_total",
			Help: "Inbound frames by classified kind.",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsbridge_frames_dropped_total",
			Help: "Inbound frames dropped because no processor was attached.",
		}),
		ProcessorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsbridge_processor_errors_total",
			Help: "Errors returned by processors.",
		}, []string{"op"}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsbridge_write_errors_total",
			Help: "Outbound frame writes that failed.",
		}),
		CloseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsbridge_close_errors_total",
			Help: "Socket closes that failed and were swallowed.",
		}),
		UpgradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsbridge_upgrades_rejected_total",
			Help: "Upgrade requests rejected before open.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.ConnOpened, m.ConnClosed, m.ConnActive, m.FramesTotal, m.FramesDropped,
		m.ProcessorErrors, m.WriteErrors, m.CloseErrors, m.UpgradesRejected)
	return m
}

func (m *AppMetrics) Opened() {
	if m == nil {
		return
	}
	m.ConnOpened.Inc()
	m.ConnActive.Inc()
}

func (m *AppMetrics) Closed() {
	if m == nil {
		return
	}
	m.ConnClosed.Inc()
	m.ConnActive.Dec()
}

func (m *AppMetrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

func (m *AppMetrics) Dropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *AppMetrics) ProcessorError(op string) {
	if m == nil {
		return
	}
	m.ProcessorErrors.WithLabelValues(op).Inc()
}

func (m *AppMetrics) WriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

func (m *AppMetrics) CloseError() {
	if m == nil {
		return
	}
	m.CloseErrors.Inc()
}

func (m *AppMetrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.UpgradesRejected.WithLabelValues(reason).Inc()
}
