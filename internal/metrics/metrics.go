// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
)

const namespace = "sigrelay"

// Metrics holds every collector on its own registry, so tests can create
// as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	signals    *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	orders     *prometheus.CounterVec
	errors     *prometheus.CounterVec
	state      *prometheus.GaugeVec
	reconnects *prometheus.CounterVec
	restarts   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals received from the feed.",
		}, []string{"account", "kind"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_attempts_total",
			Help:      "Order placement attempts by outcome.",
		}, []string{"account", "side", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Completed order sequences by final status.",
		}, []string{"account", "side", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported while processing signals.",
		}, []string{"account"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Feed connection state: 0 disconnected, 1 connecting, 2 subscribed, 3 streaming.",
		}, []string{"account"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed redials after a connect or stream failure.",
		}, []string{"account"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_restarts_total",
			Help:      "Pipeline restarts by the supervisor.",
		}, []string{"account"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signals, m.attempts, m.orders, m.errors, m.state, m.reconnects, m.restarts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Report counts records, making Metrics an events.Sink.
func (m *Metrics) Report(_ context.Context, r events.Record) {
	account := r.Source.Account

	switch r.Kind {
	case events.KindSignalReceived:
		m.signals.WithLabelValues(account, string(r.SignalKind)).Inc()
	case events.KindOrderAttempt:
		outcome := "ok"
		if r.Attempt.Error != "" {
			outcome = "rejected"
			if r.Attempt.Retryable {
				outcome = "retryable"
			}
		}
		m.attempts.WithLabelValues(account, string(r.Attempt.Side), outcome).Inc()
	case events.KindOrderResult:
		m.orders.WithLabelValues(account, string(r.Order.Side), string(r.Order.Status)).Inc()
	case events.KindError:
		m.errors.WithLabelValues(account).Inc()
	}
}

func (m *Metrics) SetConnectionState(account string, s domain.ConnectionState) {
	m.state.WithLabelValues(account).Set(float64(s))
}

func (m *Metrics) IncReconnect(account string) {
	m.reconnects.WithLabelValues(account).Inc()
}

func (m *Metrics) IncRestart(account string) {
	m.restarts.WithLabelValues(account).Inc()
}
