package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fibscan",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fibscan", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	authRejectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fibscan", Name: "auth_rejection_total", Help: "Authorization rejections by reason"},
		[]string{"reason"},
	)
	quotaRejectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fibscan", Name: "quota_rejection_total", Help: "Quota rejections by feature and tier"},
		[]string{"feature", "tier"},
	)
	serviceTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fibscan", Name: "service_tokens_total", Help: "Service token issuance attempts by service and outcome"},
		[]string{"service", "outcome"},
	)
	externalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "fibscan", Name: "external_op_duration_seconds", Help: "Duration of calls to the analysis backend"},
		[]string{"op", "outcome"},
	)
	externalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fibscan", Name: "external_op_total", Help: "Total calls to the analysis backend"},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, authRejectionTotal, quotaRejectionTotal, serviceTokensTotal, externalDuration, externalTotal)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		observer := reqDuration.WithLabelValues(c.Request.Method, path, status)
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// RecordAuthRejection counts an authorization rejection by reason code.
func RecordAuthRejection(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	authRejectionTotal.WithLabelValues(reason).Inc()
}

// RecordQuotaRejection counts a quota hit.
func RecordQuotaRejection(feature, tier string) {
	quotaRejectionTotal.WithLabelValues(feature, tier).Inc()
}

// RecordTokenIssue counts a service token issuance attempt.
func RecordTokenIssue(service string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	serviceTokensTotal.WithLabelValues(service, outcome).Inc()
}

// RecordExternalOp records one analysis-backend call with duration and outcome.
func RecordExternalOp(op string, dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	externalDuration.WithLabelValues(op, outcome).Observe(dur.Seconds())
	externalTotal.WithLabelValues(op, outcome).Inc()
}
