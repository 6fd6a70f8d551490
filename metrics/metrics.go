// Package metrics counts backend calls, registration outcomes and OTP results
// in Prometheus form. A CLI process is short-lived, so the registry is written
// to a node_exporter textfile instead of being scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "proconnect"

// OTP outcomes.
const (
	OTPVerified     = "verified"
	OTPRejected     = "rejected"
	OTPResent       = "resent"
	OTPResendFailed = "resend_failed"
	OTPClosed       = "closed"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	otp         *prometheus.CounterVec
}

// New creates and registers all collectors. withRuntime adds the Go runtime
// and process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Backend requests by call and HTTP status (0 when no response was received).",
		}, []string{"variant", "call", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"variant", "call"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Registration submissions by classified outcome.",
		}, []string{"variant", "kind"}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_outcomes_total",
			Help:      "OTP verification session results.",
		}, []string{"variant", "outcome"}),
	}
	m.registry.MustRegister(m.requests, m.duration, m.submissions, m.otp)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest implements backend.RequestObserver.
func (m *Metrics) ObserveRequest(variant, call string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(variant, call, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(variant, call).Observe(elapsed.Seconds())
}

// ObserveSubmission implements gateway.OutcomeObserver.
func (m *Metrics) ObserveSubmission(variant, kind string) {
	m.submissions.WithLabelValues(variant, kind).Inc()
}

// ObserveOTP counts an OTP session result.
func (m *Metrics) ObserveOTP(variant, outcome string) {
	m.otp.WithLabelValues(variant, outcome).Inc()
}

// WriteTextfile writes the registry atomically in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
