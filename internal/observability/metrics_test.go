package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

func TestBotMetricsRecordLifecycle(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	var rec requests.Recorder = m.Bot
	rec.RequestCreated()
	rec.RequestCreated()
	rec.RequestFinished(requests.StatusCompleted, 3*time.Second)
	rec.RequestFinished(requests.StatusExpired, 5*time.Minute)
	rec.RequestEvicted()

	expected := `
# HELP bot_requests_finished_total Identification requests that reached a terminal status
# TYPE bot_requests_finished_total counter
bot_requests_finished_total{status="completed"} 1
bot_requests_finished_total{status="expired"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "bot_requests_finished_total"))

	count, err := testutil.GatherAndCount(m.Registry(), "bot_requests_created_total", "bot_requests_evicted_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOutboundObserve(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Scheme: "https", Host: "api.gbif.org:443", Path: "/v1/species/match"}}
	m.Outbound.Observe(req, &http.Response{StatusCode: 200}, nil, 150*time.Millisecond)
	m.Outbound.Observe(req, nil, errors.New("dial tcp: timeout"), time.Second)

	expected := `
# HELP outbound_http_requests_total Requests to external APIs by host and status code
# TYPE outbound_http_requests_total counter
outbound_http_requests_total{host="api.gbif.org",method="GET",status_code="200"} 1
outbound_http_requests_total{host="api.gbif.org",method="GET",status_code="error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "outbound_http_requests_total"))
}

func TestGaugeFuncAndHandler(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NoError(t, m.RegisterGaugeFunc("bot_result_cache_items", "Cached results", func() float64 { return 7 }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_result_cache_items 7")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
