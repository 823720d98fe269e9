// Package observability wires the Prometheus registry of the bot.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/wildlife-id-bot/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Bot      *metrics.BotMetrics
	Outbound *metrics.OutboundMetrics
}

// NewMetrics creates a registry with the process and Go collectors plus the
// bot's own.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bot, err := metrics.NewBotMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot metrics: %w", err)
	}
	outbound, err := metrics.NewOutboundMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbound metrics: %w", err)
	}
	return &Metrics{registry: registry, Bot: bot, Outbound: outbound}, nil
}

// Registry exposes the registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGaugeFunc registers a gauge whose value is read at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
