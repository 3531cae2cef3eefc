/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric name constants.
const (
	metricRequestDuration    = "promptwire_design_api_request_duration_seconds"
	metricRequestsTotal      = "promptwire_design_api_requests_total"
	metricEditsTotal         = "promptwire_design_edits_total"
	metricGeneratorCalls     = "promptwire_design_generator_calls_total"
	metricVersionsCompressed = "promptwire_design_versions_compressed_total"
)

// DefaultHTTPDurationBuckets are histogram buckets for HTTP request durations.
var DefaultHTTPDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds Prometheus metrics for the design API.
type Metrics struct {
	// RequestDuration tracks HTTP request duration in seconds by method, route, and status code.
	RequestDuration *prometheus.HistogramVec

	// RequestsTotal counts HTTP requests by method, route, and status code.
	RequestsTotal *prometheus.CounterVec

	// EditsTotal counts applied edits by edit type.
	EditsTotal *prometheus.CounterVec

	// GeneratorCalls counts wireframe generation attempts by outcome.
	GeneratorCalls *prometheus.CounterVec

	// VersionsCompressed counts versions rewritten by compaction.
	VersionsCompressed prometheus.Counter
}

// MetricsConfig configures the design API metrics.
type MetricsConfig struct {
	DurationBuckets []float64
}

// NewMetrics creates and registers Prometheus metrics for the design API.
func NewMetrics(cfg *MetricsConfig) *Metrics {
	var buckets []float64
	if cfg != nil && cfg.DurationBuckets != nil {
		buckets = cfg.DurationBuckets
	} else {
		buckets = DefaultHTTPDurationBuckets
	}

	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricRequestDuration,
			Help:    "HTTP request duration in seconds",
			Buckets: buckets,
		}, []string{"method", "route", "status_code"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricRequestsTotal,
			Help: "Total HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status_code"}),

		EditsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricEditsTotal,
			Help: "Applied design edits by edit type",
		}, []string{"edit_type"}),

		GeneratorCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricGeneratorCalls,
			Help: "Wireframe generation attempts by outcome",
		}, []string{"status"}),

		VersionsCompressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metricVersionsCompressed,
			Help: "Design versions rewritten to skeletons by compaction",
		}),
	}
}

// Initialize pre-registers label combinations so they appear in /metrics
// at startup.
func (m *Metrics) Initialize() {
	for _, status := range []string{"success", "error"} {
		m.GeneratorCalls.WithLabelValues(status).Add(0)
	}
	for _, editType := range []string{"modify", "add", "remove", "style", "layout"} {
		m.EditsTotal.WithLabelValues(editType).Add(0)
	}
}

// statusCapture wraps http.ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (s *statusCapture) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware returns HTTP middleware that records request metrics.
func MetricsMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(sc, r)

		duration := time.Since(start).Seconds()
		route := normalizeRoute(r)
		status := strconv.Itoa(sc.code)

		m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(duration)
		m.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// normalizeRoute extracts a low-cardinality route label from the request.
// It relies on the registered ServeMux pattern so session IDs never become
// label values.
func normalizeRoute(r *http.Request) string {
	if pat := r.Pattern; pat != "" {
		return pat
	}
	return r.URL.Path
}
