// Package metrics exposes the engine's Prometheus collectors:
//
//   - grid_orders_total{symbol,side,kind}          orders placed (kind: grid|close|ema)
//   - grid_fills_total{symbol,side,kind,confidence} vanished orders booked by reconciliation
//   - grid_rate_limited_total{symbol}              rate-limited symbol passes
//   - grid_ema_signals_total{symbol,signal}        fired EMA crossovers
//   - grid_balance                                 last account balance
//   - grid_backoff_seconds                         current rate-limit backoff
//   - grid_net_position{symbol}                    tracked net position
//   - grid_pending_orders{symbol}                  orders resting per symbol
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/grid_market_maker/internal/domain"
)

// Metrics owns its registry so tests and multiple engines do not collide on
// the global default. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	orders      *prometheus.CounterVec
	fills       *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	emaSignals  *prometheus.CounterVec
	balance     prometheus.Gauge
	backoff     prometheus.Gauge
	netPosition *prometheus.GaugeVec
	pending     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_orders_total", Help: "Orders placed"},
			[]string{"symbol", "side", "kind"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_fills_total", Help: "Vanished orders booked by fill reconciliation"},
			[]string{"symbol", "side", "kind", "confidence"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_rate_limited_total", Help: "Rate-limited venue calls"},
			[]string{"symbol"},
		),
		emaSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_ema_signals_total", Help: "Fired EMA crossover signals"},
			[]string{"symbol", "signal"},
		),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_balance", Help: "Account balance at the last refresh",
		}),
		backoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_backoff_seconds", Help: "Current rate-limit backoff",
		}),
		netPosition: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "grid_net_position", Help: "Net position tracked from fills"},
			[]string{"symbol"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "grid_pending_orders", Help: "Orders resting on the venue"},
			[]string{"symbol"},
		),
	}

	m.registry.MustRegister(
		m.orders, m.fills, m.rateLimited, m.emaSignals,
		m.balance, m.backoff, m.netPosition, m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderPlaced(symbol string, side domain.Side, kind string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(symbol, string(side), kind).Inc()
}

func (m *Metrics) FillObserved(symbol string, side domain.Side, kind string, confidence domain.FillConfidence) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(symbol, string(side), kind, string(confidence)).Inc()
}

func (m *Metrics) RateLimited(symbol string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(symbol).Inc()
}

func (m *Metrics) EMASignal(symbol, signal string) {
	if m == nil {
		return
	}
	m.emaSignals.WithLabelValues(symbol, signal).Inc()
}

func (m *Metrics) SetBalance(balance float64) {
	if m == nil {
		return
	}
	m.balance.Set(balance)
}

func (m *Metrics) SetBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.Set(d.Seconds())
}

func (m *Metrics) SetSymbolState(symbol string, netPosition float64, pending int) {
	if m == nil {
		return
	}
	m.netPosition.WithLabelValues(symbol).Set(netPosition)
	m.pending.WithLabelValues(symbol).Set(float64(pending))
}
