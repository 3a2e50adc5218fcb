// Package metrics exports Prometheus instrumentation for verification
// decisions, settlements and HTTP handlers. A nil *Recorder is valid and
// records nothing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/x402"
)

// Recorder holds the collectors.
type Recorder struct {
	decisions       *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	settleDuration  prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRecorder builds a recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_decisions_total",
				Help: "Verification decisions by layer, result and reason code",
			},
			[]string{"layer", "result", "reason"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_settlements_total",
				Help: "Settlements reaching a terminal state",
			},
			[]string{"status", "reason"},
		),
		settleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpay_settlement_duration_seconds",
				Help:    "Time from payload verification to terminal settlement state",
				Buckets: prometheus.DefBuckets,
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{r.decisions, r.settlements, r.settleDuration, r.requests, r.requestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return r, nil
}

// Decision counts one verifier outcome.
func (r *Recorder) Decision(layer reason.Layer, d reason.Decision) {
	if r == nil {
		return
	}
	result := "rejected"
	if d.Accepted {
		result = "accepted"
	}
	r.decisions.WithLabelValues(string(layer), result, string(d.Reason)).Inc()
}

// SettlementFinalized implements [x402.SettlementSink].
func (r *Recorder) SettlementFinalized(_ context.Context, s x402.Settlement) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(string(s.Status), string(s.Error)).Inc()
	if d := s.UpdatedAt.Sub(s.CreatedAt); d >= 0 {
		r.settleDuration.Observe(d.Seconds())
	}
}

// InstrumentHandler wraps h with request counters and latency.
func (r *Recorder) InstrumentHandler(name string, h http.Handler) http.Handler {
	if r == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h.ServeHTTP(wrapped, req)
		r.requestDuration.WithLabelValues(name, req.Method).Observe(time.Since(start).Seconds())
		r.requests.WithLabelValues(name, req.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
