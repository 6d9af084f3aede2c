// Package metrics exposes Prometheus collectors for checkout, gateway and
// webhook activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ledger's metrics. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	CheckoutTotal     *prometheus.CounterVec
	TransactionsTotal *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	WebhookEvents     *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	PendingExpired    prometheus.Counter
}

// New creates a collector on its own registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers every metric on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,

		CheckoutTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "checkout_total",
				Help:      "Checkout attempts by outcome",
			},
			[]string{"outcome"},
		),
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "transactions_total",
				Help:      "Transaction status changes by provider",
			},
			[]string{"provider", "status"},
		),
		GatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Name:      "gateway_request_duration_seconds",
				Help:      "Outbound payment provider call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "webhook_events_total",
				Help:      "Provider callbacks by result",
			},
			[]string{"provider", "result"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "events_total",
				Help:      "Ledger events published by kind",
			},
			[]string{"kind"},
		),
		PendingExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "pending_expired_total",
				Help:      "Pending transactions failed by the expiry sweeper",
			},
		),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCheckout(outcome string) {
	if c == nil {
		return
	}
	c.CheckoutTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTransaction(provider, status string) {
	if c == nil {
		return
	}
	c.TransactionsTotal.WithLabelValues(provider, status).Inc()
}

func (c *Collector) ObserveGateway(provider string, started time.Time) {
	if c == nil {
		return
	}
	c.GatewayDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

func (c *Collector) RecordWebhook(provider, result string) {
	if c == nil {
		return
	}
	c.WebhookEvents.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordEvent(kind string) {
	if c == nil {
		return
	}
	c.EventsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PendingExpired.Add(float64(n))
}
