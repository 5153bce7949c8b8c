package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported on /metrics. A private registry keeps
// tests free to build as many instances as they need.
type Metrics struct {
	registry    *prometheus.Registry
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	requests    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "contract",
		Name:      "calls_total",
		Help:      "Marketplace contract reads and writes segmented by method and outcome.",
	}, []string{"method", "outcome"})
	callLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "market",
		Subsystem: "contract",
		Name:      "call_duration_seconds",
		Help:      "Latency of marketplace contract calls, excluding the wait for inclusion.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served segmented by route template, method and status.",
	}, []string{"route", "method", "status"})
	registry.MustRegister(calls, callLatency, requests)
	return &Metrics{
		registry:    registry,
		calls:       calls,
		callLatency: callLatency,
		requests:    requests,
	}
}

// ObserveCall records one contract call. Safe on a nil receiver.
func (m *Metrics) ObserveCall(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// CallCount returns the current value of the call counter for a method/outcome pair.
func (m *Metrics) CallCount(method, outcome string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.calls.WithLabelValues(method, outcome))
}

// Middleware counts requests per mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
