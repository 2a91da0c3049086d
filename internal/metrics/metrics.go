// Package metrics holds the prometheus collectors for the meeting engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is created once at startup and handed to every component that records.
type Metrics struct {
	CommandsTotal        *prometheus.CounterVec
	CommandDuration      *prometheus.HistogramVec
	AuditAppendsTotal    *prometheus.CounterVec
	AuditPending         prometheus.Gauge
	ChainVerifyFailures  prometheus.Counter
	SnapshotLookups      *prometheus.CounterVec
	WebSocketConnections prometheus.Gauge
	PatchesDropped       prometheus.Counter
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests isolated from each other.
func New(prefix string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_commands_total",
				Help: "Meeting commands processed, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_command_duration_seconds",
				Help:    "Time spent processing a meeting command inside its scope queue",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		AuditAppendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_audit_appends_total",
				Help: "Audit chain append attempts, by outcome",
			},
			[]string{"outcome"},
		),
		AuditPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_audit_pending",
				Help: "Committed state changes waiting for their audit record",
			},
		),
		ChainVerifyFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_chain_verify_failures_total",
				Help: "Audit chain verifications that detected a broken link",
			},
		),
		SnapshotLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_snapshot_lookups_total",
				Help: "Snapshot cache lookups on join, by result",
			},
			[]string{"result"},
		),
		WebSocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_websocket_connections",
				Help: "Currently connected WebSocket clients",
			},
		),
		PatchesDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_patches_dropped_total",
				Help: "Patches not delivered because a connection's send buffer was full",
			},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		gatherer: reg,
	}
}

// Handler exposes the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
