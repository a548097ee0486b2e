// Package metrics collects the matcher's operational counters. The
// registry is passed in explicitly; nothing here is process-global.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced      *prometheus.CounterVec
	OrdersRejected    *prometheus.CounterVec
	OrdersCanceled    *prometheus.CounterVec
	TradesExecuted    *prometheus.CounterVec
	Rollbacks         *prometheus.CounterVec
	BookDepth         *prometheus.GaugeVec
	ValidationLatency prometheus.Histogram
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_orders_placed_total",
			Help: "Orders accepted into a book or fully filled on arrival.",
		}, []string{"pair"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_orders_rejected_total",
			Help: "Placements refused by validation.",
		}, []string{"pair"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_orders_canceled_total",
			Help: "Orders removed by cancel requests or the expiry sweep.",
		}, []string{"pair"}),
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_trades_executed_total",
			Help: "Exchange transactions emitted.",
		}, []string{"pair"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_rollbacks_total",
			Help: "Matches rolled back after the pool refused a transaction.",
		}, []string{"pair"}),
		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matcher_book_depth",
			Help: "Resting orders per book side.",
		}, []string{"pair", "side"}),
		ValidationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matcher_validation_latency_seconds",
			Help:    "Placement validation latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		m.OrdersPlaced,
		m.OrdersRejected,
		m.OrdersCanceled,
		m.TradesExecuted,
		m.Rollbacks,
		m.BookDepth,
		m.ValidationLatency,
	)
	return m
}

// ObserveValidation records one validation round trip.
func (m *Metrics) ObserveValidation(d time.Duration) {
	m.ValidationLatency.Observe(d.Seconds())
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
