package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each instance owns its
// registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	boardMoves    *prometheus.CounterVec
	moveLatency   prometheus.Histogram
	blobOps       *prometheus.CounterVec
	wsConnections prometheus.Gauge
	uploads       prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_board_http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		boardMoves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_board_moves_total",
				Help: "Board move writes by outcome",
			},
			[]string{"result"},
		),
		moveLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "studio_board_move_write_latency_ms",
				Help:    "Latency of board move writes in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
		),
		blobOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_board_blob_operations_total",
				Help: "Blob storage operations by kind and outcome",
			},
			[]string{"operation", "result"},
		),
		wsConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "studio_board_websocket_connections",
				Help: "Open websocket board sessions",
			},
		),
		uploads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "studio_board_uploads_in_progress",
				Help: "Ticket uploads currently in progress",
			},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, code).Inc()
}

// ObserveMove records the outcome of one board move write.
func (m *Metrics) ObserveMove(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.boardMoves.WithLabelValues(result(err)).Inc()
	m.moveLatency.Observe(float64(elapsed.Microseconds()) / 1000)
}

func (m *Metrics) ObserveBlob(operation string, err error) {
	if m == nil {
		return
	}
	m.blobOps.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func (m *Metrics) SetUploadsInProgress(n int) {
	if m == nil {
		return
	}
	m.uploads.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
