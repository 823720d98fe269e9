// Package metrics provides the Prometheus collectors of the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

// BotMetrics covers the request lifecycle, quotas, classification and
// update dispatch. It implements requests.Recorder.
type BotMetrics struct {
	requestsCreated  prometheus.Counter
	requestsFinished *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsEvicted  prometheus.Counter

	quotaConsumed  *prometheus.CounterVec
	quotaExhausted *prometheus.CounterVec

	classifications *prometheus.CounterVec
	classifyLatency prometheus.Histogram

	updatesTotal  *prometheus.CounterVec
	panicsTotal   prometheus.Counter
	messagesSent  *prometheus.CounterVec
	inFlightTasks prometheus.Gauge
}

var _ requests.Recorder = (*BotMetrics)(nil)

// NewBotMetrics creates and registers the bot collectors.
func NewBotMetrics(registry prometheus.Registerer) (*BotMetrics, error) {
	m := &BotMetrics{
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_requests_created_total",
			Help: "Identification requests created",
		}),
		requestsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_requests_finished_total",
			Help: "Identification requests that reached a terminal status",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_request_duration_seconds",
			Help:    "Time from request creation to its terminal status",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"status"}),
		requestsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_requests_evicted_total",
			Help: "Requests expired because a user exceeded the per-user ceiling",
		}),
		quotaConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_quota_consumed_total",
			Help: "Quota units consumed",
		}, []string{"scope"}),
		quotaExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_quota_exhausted_total",
			Help: "Requests refused because the weekly quota was used up",
		}, []string{"scope"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_classifications_total",
			Help: "Classifier calls by outcome",
		}, []string{"outcome"}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_classification_duration_seconds",
			Help:    "Classifier call latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		}),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Chat updates dispatched by type",
		}, []string{"type"}),
		panicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_task_panics_total",
			Help: "Panics recovered by the update supervisor",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_messages_sent_total",
			Help: "Outgoing chat messages by kind and result",
		}, []string{"kind", "result"}),
		inFlightTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_tasks_in_flight",
			Help: "Update handlers currently running",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BotMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsCreated, m.requestsFinished, m.requestDuration, m.requestsEvicted,
		m.quotaConsumed, m.quotaExhausted,
		m.classifications, m.classifyLatency,
		m.updatesTotal, m.panicsTotal, m.messagesSent, m.inFlightTasks,
	}
}

// Describe implements the Collector interface
func (m *BotMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *BotMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RequestCreated implements requests.Recorder.
func (m *BotMetrics) RequestCreated() { m.requestsCreated.Inc() }

// RequestFinished implements requests.Recorder.
func (m *BotMetrics) RequestFinished(status requests.Status, d time.Duration) {
	m.requestsFinished.WithLabelValues(status.String()).Inc()
	m.requestDuration.WithLabelValues(status.String()).Observe(d.Seconds())
}

// RequestEvicted implements requests.Recorder.
func (m *BotMetrics) RequestEvicted() { m.requestsEvicted.Inc() }

// QuotaConsumed counts one consumed unit for scope ("group" or "user").
func (m *BotMetrics) QuotaConsumed(scope string) { m.quotaConsumed.WithLabelValues(scope).Inc() }

// QuotaExhausted counts a refusal for scope.
func (m *BotMetrics) QuotaExhausted(scope string) { m.quotaExhausted.WithLabelValues(scope).Inc() }

// Classification records one classifier call. outcome is "identified",
// "quality_failure" or "error".
func (m *BotMetrics) Classification(outcome string, d time.Duration) {
	m.classifications.WithLabelValues(outcome).Inc()
	m.classifyLatency.Observe(d.Seconds())
}

// Update counts a dispatched update of the given type.
func (m *BotMetrics) Update(kind string) { m.updatesTotal.WithLabelValues(kind).Inc() }

// Panic counts a recovered panic.
func (m *BotMetrics) Panic() { m.panicsTotal.Inc() }

// MessageSent counts an outgoing message.
func (m *BotMetrics) MessageSent(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messagesSent.WithLabelValues(kind, result).Inc()
}

// TaskStarted marks an update handler as running.
func (m *BotMetrics) TaskStarted() { m.inFlightTasks.Inc() }

// TaskDone marks a handler as finished.
func (m *BotMetrics) TaskDone() { m.inFlightTasks.Dec() }
