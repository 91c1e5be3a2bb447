package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sentraThreatsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentra_threats_total",
		Help: "Total number of threat records by status.",
	}, []string{"status"})

	sentraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sentraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sentraFeedSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_feed_syncs_total",
		Help: "Total feed sync runs by result.",
	}, []string{"result"})

	sentraAuditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentra_audit_entries_total",
		Help: "Total audit ledger entries appended.",
	})

	sentraNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_notification_deliveries_total",
		Help: "Total notification deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		sentraRequestsTotal.WithLabelValues(method, path, status).Inc()
		sentraRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordFeedSync records a feed sync run result.
func RecordFeedSync(success bool) {
	if success {
		sentraFeedSyncsTotal.WithLabelValues("success").Inc()
	} else {
		sentraFeedSyncsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordAuditAppend records an audit ledger entry append.
func RecordAuditAppend() {
	sentraAuditEntriesTotal.Inc()
}

// RecordNotificationDelivery records a notification delivery attempt.
func RecordNotificationDelivery(success bool) {
	if success {
		sentraNotificationsTotal.WithLabelValues("success").Inc()
	} else {
		sentraNotificationsTotal.WithLabelValues("failure").Inc()
	}
}

// SetThreatsGauge sets the threat count gauge for a given status.
func SetThreatsGauge(status string, count float64) {
	sentraThreatsTotal.WithLabelValues(status).Set(count)
}
