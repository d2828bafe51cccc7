package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/usecase/dispatch"
	"github.com/zono819/winbot/internal/usecase/risk"
)

func TestObserve(t *testing.T) {
	m := New("test")

	emit := func(name event.Name, payload interface{}) {
		m.Observe(event.Event{Name: name, Payload: payload, At: time.Now()})
	}

	emit(event.OrderQueued, &entity.Order{})
	emit(event.OrderQueued, &entity.Order{})
	emit(event.OrderSent, &entity.Order{})
	emit(event.OrderError, dispatch.ErrorEvent{Error: "boom"})
	emit(event.OrderExecution, dispatch.ExecutionEvent{
		Execution: entity.Execution{Side: entity.SideBuy, Status: entity.OrderStatusFilled, Quantity: 2},
	})
	emit(event.RiskMetrics, risk.Status{RealizedPnL: 120.5, NetExposure: -2, Trades: 3})
	emit(event.RiskBreach, risk.Status{RealizedPnL: -1000, Halted: true})
	emit(event.FixLogon, nil)
	emit(event.FixError, errors.New("socket closed"))
	emit(event.Started, nil)
	emit(event.Paused, nil)
	emit(event.StrategySignal, &entity.Signal{Action: entity.ActionSell})
	emit(event.StrategyBlocked, nil)
	emit(event.AIConsensus, nil)
	emit(event.AIRL, nil)
	emit(event.AIRL, nil)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"orders queued", testutil.ToFloat64(m.OrdersTotal.WithLabelValues("queued")), 2},
		{"orders sent", testutil.ToFloat64(m.OrdersTotal.WithLabelValues("sent")), 1},
		{"orders error", testutil.ToFloat64(m.OrdersTotal.WithLabelValues("error")), 1},
		{"executions", testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("BUY", "filled")), 1},
		{"contracts", testutil.ToFloat64(m.ContractsTraded), 2},
		{"realized after breach", testutil.ToFloat64(m.RealizedPnL), -1000},
		{"halted", testutil.ToFloat64(m.RiskHalted), 1},
		{"breaches", testutil.ToFloat64(m.RiskBreaches), 1},
		{"session connected", testutil.ToFloat64(m.SessionConnected), 1},
		{"session errors", testutil.ToFloat64(m.SessionErrors), 1},
		{"running", testutil.ToFloat64(m.Running), 1},
		{"paused", testutil.ToFloat64(m.Paused), 1},
		{"sell signals", testutil.ToFloat64(m.SignalsTotal.WithLabelValues("SELL")), 1},
		{"blocked", testutil.ToFloat64(m.SignalsBlocked), 1},
		{"llm updates", testutil.ToFloat64(m.AdvisoryUpdates.WithLabelValues("llm")), 1},
		{"rl updates", testutil.ToFloat64(m.AdvisoryUpdates.WithLabelValues("rl")), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, expected %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestObserve_StoppedClearsState(t *testing.T) {
	m := New("")
	m.Observe(event.Event{Name: event.Started})
	m.Observe(event.Event{Name: event.Paused})
	m.Observe(event.Event{Name: event.Stopped})
	m.Observe(event.Event{Name: event.FixDisconnect})

	if v := testutil.ToFloat64(m.Running); v != 0 {
		t.Errorf("Running = %v, expected 0", v)
	}
	if v := testutil.ToFloat64(m.Paused); v != 0 {
		t.Errorf("Paused = %v, expected 0", v)
	}
	if v := testutil.ToFloat64(m.SessionConnected); v != 0 {
		t.Errorf("SessionConnected = %v, expected 0", v)
	}
}

func TestHandler(t *testing.T) {
	m := New("winbot")
	m.RecordHTTPRequest("GET", "/api/system/status", 200, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		`winbot_http_requests_total{method="GET",route="/api/system/status",status="200"} 1`,
		"winbot_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
