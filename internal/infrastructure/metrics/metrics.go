// Package metrics exposes prometheus collectors fed by coordinator events
// and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/usecase/dispatch"
	"github.com/zono819/winbot/internal/usecase/risk"
)

const defaultNamespace = "winbot"

var httpBuckets = []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5}

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInflight        prometheus.Gauge

	// orders
	OrdersTotal     *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec
	ContractsTraded prometheus.Counter

	// risk
	RealizedPnL   prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	NetExposure   prometheus.Gauge
	Drawdown      prometheus.Gauge
	Trades        prometheus.Gauge
	RiskHalted    prometheus.Gauge
	RiskBreaches  prometheus.Counter

	// session
	SessionConnected prometheus.Gauge
	SessionErrors    prometheus.Counter

	// coordinator
	Running         prometheus.Gauge
	Paused          prometheus.Gauge
	SignalsTotal    *prometheus.CounterVec
	SignalsBlocked  prometheus.Counter
	AdvisoryUpdates *prometheus.CounterVec
	MarketUpdates   prometheus.Counter
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
		HTTPInflight: gauge("", "http_requests_inflight", "HTTP requests in flight"),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order lifecycle transitions",
		}, []string{"status"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution reports attached to orders",
		}, []string{"side", "status"}),
		ContractsTraded: counter("contracts_traded_total", "Contracts filled"),

		RealizedPnL:   gauge("risk", "realized_pnl", "Realized PnL of the session"),
		UnrealizedPnL: gauge("risk", "unrealized_pnl", "Unrealized PnL at the last price"),
		NetExposure:   gauge("risk", "net_exposure", "Signed net contracts"),
		Drawdown:      gauge("risk", "drawdown", "Drawdown from peak total PnL"),
		Trades:        gauge("risk", "trades", "Fills booked today"),
		RiskHalted:    gauge("risk", "halted", "1 when new orders are blocked"),
		RiskBreaches:  counter("risk_breaches_total", "Daily target or loss limit breaches"),

		SessionConnected: gauge("fix", "connected", "1 while the broker session is logged on"),
		SessionErrors:    counter("fix_errors_total", "Broker session errors"),

		Running: gauge("coordinator", "running", "1 while the coordinator is running"),
		Paused:  gauge("coordinator", "paused", "1 while evaluation is paused"),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Merged strategy signals by action",
		}, []string{"action"}),
		SignalsBlocked: counter("signals_blocked_total", "Signals refused by the risk gate"),
		AdvisoryUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_updates_total",
			Help:      "Advisory refreshes by source",
		}, []string{"source"}),
		MarketUpdates: counter("market_updates_total", "Market snapshots processed"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPInflight,
		m.OrdersTotal,
		m.ExecutionsTotal,
		m.ContractsTraded,
		m.RealizedPnL,
		m.UnrealizedPnL,
		m.NetExposure,
		m.Drawdown,
		m.Trades,
		m.RiskHalted,
		m.RiskBreaches,
		m.SessionConnected,
		m.SessionErrors,
		m.Running,
		m.Paused,
		m.SignalsTotal,
		m.SignalsBlocked,
		m.AdvisoryUpdates,
		m.MarketUpdates,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one finished request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// Observe updates collectors from a coordinator event. Use it as an event.Handler.
func (m *Metrics) Observe(ev event.Event) {
	switch ev.Name {
	case event.OrderQueued, event.OrderSending, event.OrderSent, event.OrderError:
		m.OrdersTotal.WithLabelValues(strings.TrimPrefix(string(ev.Name), "order:")).Inc()

	case event.OrderExecution:
		if p, ok := ev.Payload.(dispatch.ExecutionEvent); ok {
			m.ExecutionsTotal.WithLabelValues(string(p.Execution.Side), string(p.Execution.Status)).Inc()
			if p.Execution.Quantity > 0 {
				m.ContractsTraded.Add(float64(p.Execution.Quantity))
			}
		}

	case event.RiskReset, event.RiskMetrics:
		if s, ok := ev.Payload.(risk.Status); ok {
			m.setRisk(s)
		}
	case event.RiskBreach:
		m.RiskBreaches.Inc()
		if s, ok := ev.Payload.(risk.Status); ok {
			m.setRisk(s)
		}

	case event.FixLogon:
		m.SessionConnected.Set(1)
	case event.FixDisconnect:
		m.SessionConnected.Set(0)
	case event.FixError:
		m.SessionErrors.Inc()

	case event.Started:
		m.Running.Set(1)
		m.Paused.Set(0)
	case event.Paused:
		m.Paused.Set(1)
	case event.Stopped:
		m.Running.Set(0)
		m.Paused.Set(0)

	case event.StrategySignal:
		if sig, ok := ev.Payload.(*entity.Signal); ok {
			m.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
		}
	case event.StrategyBlocked:
		m.SignalsBlocked.Inc()

	case event.AIConsensus:
		m.AdvisoryUpdates.WithLabelValues("llm").Inc()
	case event.AIRL:
		m.AdvisoryUpdates.WithLabelValues("rl").Inc()

	case event.MarketUpdate:
		m.MarketUpdates.Inc()
	}
}

func (m *Metrics) setRisk(s risk.Status) {
	m.RealizedPnL.Set(s.RealizedPnL)
	m.UnrealizedPnL.Set(s.UnrealizedPnL)
	m.NetExposure.Set(float64(s.NetExposure))
	m.Drawdown.Set(s.Drawdown)
	m.Trades.Set(float64(s.Trades))
	if s.Halted {
		m.RiskHalted.Set(1)
	} else {
		m.RiskHalted.Set(0)
	}
}
