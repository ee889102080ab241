package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocrypt_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocrypt_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	accessDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocrypt_access_decisions_total",
		Help: "File access decisions by outcome.",
	}, []string{"outcome"})

	filesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocrypt_files_total",
		Help: "Number of encrypted files stored.",
	})

	pqcMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocrypt_pqc_available",
		Help: "Key encapsulation mode: 1=ML-KEM-768, 0=classical fallback.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, accessDecisions, filesTotal, pqcMode)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

func recordDecision(allowed bool) {
	if allowed {
		accessDecisions.WithLabelValues("allowed").Inc()
	} else {
		accessDecisions.WithLabelValues("denied").Inc()
	}
}
