// Package metrics provides Prometheus metrics for the cfmctl API client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes recorded by RecordRefresh.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshCached  = "cached"
	RefreshShared  = "shared"
)

var (
	// RequestsTotal counts API requests by method and status class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfmctl",
			Name:      "api_requests_total",
			Help:      "Total number of API requests sent",
		},
		[]string{"method", "status_class"},
	)

	// RequestDuration measures API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cfmctl",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RetriesTotal counts requests re-sent after a token refresh.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cfmctl",
			Name:      "api_retries_total",
			Help:      "Total number of requests retried with a refreshed token",
		},
	)

	// RefreshTotal counts token refresh demands by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfmctl",
			Name:      "token_refresh_total",
			Help:      "Total number of token refresh demands by outcome",
		},
		[]string{"result"},
	)

	// TeardownsTotal counts session teardowns by reason.
	TeardownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfmctl",
			Name:      "session_teardowns_total",
			Help:      "Total number of session teardowns",
		},
		[]string{"reason"},
	)
)

// RecordRequest records one sent request.
func RecordRequest(method, statusClass string, duration float64) {
	RequestsTotal.WithLabelValues(method, statusClass).Inc()
	RequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordRetry records a retry after refresh.
func RecordRetry() {
	RetriesTotal.Inc()
}

// RecordRefresh records a refresh demand outcome.
func RecordRefresh(result string) {
	RefreshTotal.WithLabelValues(result).Inc()
}

// RecordTeardown records a session teardown.
func RecordTeardown(reason string) {
	TeardownsTotal.WithLabelValues(reason).Inc()
}

// StatusClass buckets an HTTP status code; zero means no response was received.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "network"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Snapshot returns the current counter values keyed by metric name and label values,
// for printing a summary at the end of a CLI run.
func Snapshot() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			key := name
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
