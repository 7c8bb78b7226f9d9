package crmapi

import (
	"net/url"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatedesk_crm_requests_total",
			Help: "CRM API requests by endpoint, method and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estatedesk_crm_request_duration_seconds",
			Help:    "CRM API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)
)

var numericSegment = regexp.MustCompile(`/\d+/`)

// metricEndpoint collapses ids and query strings so label cardinality stays
// bounded: "/clients/42/?page=3" -> "/clients/:id/".
func metricEndpoint(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	return numericSegment.ReplaceAllString(path, "/:id/")
}

func observeRequest(endpoint, method, status string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(endpoint, method, status).Inc()
	requestDuration.WithLabelValues(endpoint, method).Observe(elapsed.Seconds())
}
