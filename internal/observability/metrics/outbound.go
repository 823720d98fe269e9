package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboundMetrics tracks requests made to external APIs.
type OutboundMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewOutboundMetrics creates and registers the outbound HTTP collectors.
func NewOutboundMetrics(registry prometheus.Registerer) (*OutboundMetrics, error) {
	m := &OutboundMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_http_requests_total",
			Help: "Requests to external APIs by host and status code",
		}, []string{"host", "method", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbound_http_request_duration_seconds",
			Help:    "Latency of requests to external APIs",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe matches the httpclient after-response hook. Transport errors are
// recorded with status code "error".
func (m *OutboundMetrics) Observe(req *http.Request, resp *http.Response, err error, d time.Duration) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	host := req.URL.Hostname()
	m.requests.WithLabelValues(host, req.Method, code).Inc()
	m.duration.WithLabelValues(host).Observe(d.Seconds())
}
