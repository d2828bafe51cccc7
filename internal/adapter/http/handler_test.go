package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/infrastructure/metrics"
	"github.com/zono819/winbot/internal/usecase"
	"github.com/zono819/winbot/internal/usecase/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCoordinator struct {
	mu        sync.Mutex
	submitted []entity.OrderRequest
	submitErr error
	actions   []string
	params    []map[string]interface{}
	actionErr error
	limit     int
	market    *entity.MarketSnapshot
}

func (f *fakeCoordinator) SubmitOrder(req entity.OrderRequest) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &entity.Order{
		ID:       "ord-1",
		Symbol:   req.Symbol,
		Side:     entity.Side(req.Side),
		Quantity: int(req.Quantity),
		Status:   entity.OrderStatusQueued,
	}, nil
}

func (f *fakeCoordinator) ListOrders(limit int) []*entity.Order {
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
	return []*entity.Order{{ID: "ord-1"}}
}

func (f *fakeCoordinator) control(action string, params map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	f.params = append(f.params, params)
	return f.actionErr
}

func (f *fakeCoordinator) Start(_ context.Context, p map[string]interface{}) error {
	return f.control("start", p)
}

func (f *fakeCoordinator) Pause(_ context.Context, p map[string]interface{}) error {
	return f.control("pause", p)
}

func (f *fakeCoordinator) Stop(_ context.Context, p map[string]interface{}) error {
	return f.control("stop", p)
}

func (f *fakeCoordinator) Status() usecase.Status {
	return usecase.Status{Running: true}
}

func (f *fakeCoordinator) Heartbeat() usecase.Heartbeat {
	return usecase.Heartbeat{Running: true}
}

func (f *fakeCoordinator) Goals() risk.GoalSnapshot {
	return risk.GoalSnapshot{TargetDailyPnL: 2000, LossLimit: -1000}
}

func (f *fakeCoordinator) Metrics() usecase.Metrics {
	return usecase.Metrics{DailyPnL: 150, Trades: 3}
}

func (f *fakeCoordinator) Market() usecase.MarketView {
	return usecase.MarketView{Market: f.market.Clone()}
}

func newFakeCoordinator() *fakeCoordinator {
	candles := make([]entity.Candle, 150)
	for i := range candles {
		candles[i] = entity.Candle{Close: 120000 + float64(i)}
	}
	return &fakeCoordinator{market: &entity.MarketSnapshot{
		Symbol:  "WINQ25",
		Candles: candles,
		Trades:  []entity.Trade{{Price: 120149, Quantity: 2, Side: "buy"}},
	}}
}

func newTestRouter(coord Coordinator, opts ...func(*RouterOptions)) *gin.Engine {
	o := RouterOptions{Coordinator: coord, Logger: logger.Discard()}
	for _, fn := range opts {
		fn(&o)
	}
	return NewRouter(o)
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSubmitOrder(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantSymbol string
		wantQty    float64
	}{
		{
			name:       "market order defaults symbol",
			body:       `{"side":"buy","quantity":2}`,
			wantStatus: http.StatusAccepted,
			wantSymbol: "WINQ25",
			wantQty:    2,
		},
		{
			name:       "explicit symbol kept",
			body:       `{"symbol":"WINV25","side":"SELL","type":"LIMIT","price":120000,"quantity":"1"}`,
			wantStatus: http.StatusAccepted,
			wantSymbol: "WINV25",
			wantQty:    1,
		},
		{
			name:       "validation failure",
			body:       `{"side":"hold","quantity":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"side":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "risk rejection",
			body:       `{"quantity":5}`,
			submitErr:  &usecase.RiskRejectedError{Reason: risk.ReasonMaxContracts},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unexpected failure",
			body:       `{"quantity":1}`,
			submitErr:  errors.New("queue closed"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := newFakeCoordinator()
			coord.submitErr = tt.submitErr
			w := do(newTestRouter(coord), http.MethodPost, "/api/execution/orders", tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, expected %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusAccepted {
				if len(coord.submitted) != 0 {
					t.Errorf("submitted = %d orders, expected none", len(coord.submitted))
				}
				return
			}
			if len(coord.submitted) != 1 {
				t.Fatalf("submitted = %d orders, expected 1", len(coord.submitted))
			}
			got := coord.submitted[0]
			if got.Symbol != tt.wantSymbol {
				t.Errorf("Symbol = %s, expected %s", got.Symbol, tt.wantSymbol)
			}
			if got.Quantity != tt.wantQty {
				t.Errorf("Quantity = %v, expected %v", got.Quantity, tt.wantQty)
			}
		})
	}
}

func TestSubmitOrder_ResponseBodies(t *testing.T) {
	coord := newFakeCoordinator()
	r := newTestRouter(coord)

	w := do(r, http.MethodPost, "/api/execution/orders", `{"side":"x","quantity":-1}`)
	body := decode(t, w)
	fields, _ := body["fields"].([]interface{})
	if len(fields) != 2 || fields[0] != "side" || fields[1] != "quantity" {
		t.Errorf("fields = %v, expected [side quantity]", body["fields"])
	}

	coord.submitErr = &usecase.RiskRejectedError{Reason: risk.ReasonHalted}
	w = do(r, http.MethodPost, "/api/execution/orders", `{"quantity":1}`)
	if body := decode(t, w); body["reason"] != risk.ReasonHalted {
		t.Errorf("reason = %v, expected %s", body["reason"], risk.ReasonHalted)
	}
}

func TestListOrders(t *testing.T) {
	tests := []struct {
		query     string
		wantLimit int
	}{
		{"", 50},
		{"?limit=10", 10},
		{"?limit=abc", 50},
		{"?limit=-3", 50},
		{"?limit=99999", maxLimit},
	}
	for _, tt := range tests {
		coord := newFakeCoordinator()
		w := do(newTestRouter(coord), http.MethodGet, "/api/execution/orders"+tt.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, w.Code)
		}
		if coord.limit != tt.wantLimit {
			t.Errorf("%q: limit = %d, expected %d", tt.query, coord.limit, tt.wantLimit)
		}
		if orders, _ := decode(t, w)["orders"].([]interface{}); len(orders) != 1 {
			t.Errorf("%q: orders = %v", tt.query, orders)
		}
	}
}

func TestControl(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		actionErr  error
		wantStatus int
		wantAction string
	}{
		{"start", `{"action":"START","parameters":{"reason":"open"}}`, nil, http.StatusOK, "start"},
		{"pause", `{"action":"pause"}`, nil, http.StatusOK, "pause"},
		{"stop with bad params", `{"action":"stop","parameters":[1,2]}`, nil, http.StatusOK, "stop"},
		{"unknown action", `{"action":"restart"}`, nil, http.StatusBadRequest, ""},
		{"missing action", `{}`, nil, http.StatusBadRequest, ""},
		{"action fails", `{"action":"start"}`, errors.New("connect refused"), http.StatusInternalServerError, "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := newFakeCoordinator()
			coord.actionErr = tt.actionErr
			w := do(newTestRouter(coord), http.MethodPost, "/api/system/control", tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, expected %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantAction == "" {
				if len(coord.actions) != 0 {
					t.Errorf("actions = %v, expected none", coord.actions)
				}
				return
			}
			if len(coord.actions) != 1 || coord.actions[0] != tt.wantAction {
				t.Fatalf("actions = %v, expected [%s]", coord.actions, tt.wantAction)
			}
			if coord.params[0] == nil {
				t.Error("params = nil, expected an empty map at least")
			}
			if w.Code == http.StatusOK {
				body := decode(t, w)
				if body["success"] != true || body["action"] != tt.wantAction {
					t.Errorf("body = %v", body)
				}
			}
		})
	}
}

func TestStatusAndMetrics(t *testing.T) {
	r := newTestRouter(newFakeCoordinator())

	body := decode(t, do(r, http.MethodGet, "/api/system/status", ""))
	for _, key := range []string{"status", "heartbeat", "goals", "timestamp"} {
		if _, ok := body[key]; !ok {
			t.Errorf("status body missing %q: %v", key, body)
		}
	}
	goals, _ := body["goals"].(map[string]interface{})
	if goals["lossLimit"] != float64(-1000) {
		t.Errorf("goals = %v", goals)
	}

	metricsBody := decode(t, do(r, http.MethodGet, "/api/system/metrics", ""))
	if metricsBody["dailyPnl"] != float64(150) || metricsBody["trades"] != float64(3) {
		t.Errorf("metrics body = %v", metricsBody)
	}
}

func TestMarketRoutes(t *testing.T) {
	r := newTestRouter(newFakeCoordinator())

	tests := []struct {
		path    string
		key     string
		wantLen int
	}{
		{"/api/market/candles", "candles", 100},
		{"/api/market/candles?limit=5", "candles", 5},
		{"/api/market/trades", "trades", 1},
	}
	for _, tt := range tests {
		w := do(r, http.MethodGet, tt.path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.path, w.Code)
		}
		body := decode(t, w)
		items, _ := body[tt.key].([]interface{})
		if len(items) != tt.wantLen {
			t.Errorf("%s: %s = %d items, expected %d", tt.path, tt.key, len(items), tt.wantLen)
		}
		if body["symbol"] != "WINQ25" {
			t.Errorf("%s: symbol = %v", tt.path, body["symbol"])
		}
	}

	candles, _ := decode(t, do(r, http.MethodGet, "/api/market/candles?limit=1", ""))["candles"].([]interface{})
	last, _ := candles[0].(map[string]interface{})
	if last["close"] != float64(120149) {
		t.Errorf("last candle = %v, expected most recent", last)
	}

	snap := decode(t, do(r, http.MethodGet, "/api/market/snapshot", ""))
	if _, ok := snap["market"]; !ok {
		t.Errorf("snapshot body = %v", snap)
	}
}

func TestMarketRoutes_EmptyMarket(t *testing.T) {
	coord := newFakeCoordinator()
	coord.market = nil
	body := decode(t, do(newTestRouter(coord), http.MethodGet, "/api/market/trades", ""))
	if trades, ok := body["trades"].([]interface{}); !ok || len(trades) != 0 {
		t.Errorf("trades = %v, expected empty list", body["trades"])
	}
}

func TestHealthAndRequestID(t *testing.T) {
	r := newTestRouter(newFakeCoordinator())
	for _, path := range []string{"/health", "/healthz"} {
		w := do(r, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
		}
		if decode(t, w)["status"] != "ok" {
			t.Errorf("%s: body = %s", path, w.Body.String())
		}
		if w.Header().Get(RequestIDHeader) == "" {
			t.Errorf("%s: missing %s header", path, RequestIDHeader)
		}
	}

	w := do(r, http.MethodGet, "/health", "", RequestIDHeader, "abc-123")
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, expected propagated abc-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("test")
	r := newTestRouter(newFakeCoordinator(), func(o *RouterOptions) {
		o.Metrics = m
		o.MetricsToken = "s3cret"
	})

	do(r, http.MethodGet, "/api/system/metrics", "")

	if w := do(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, expected 401", w.Code)
	}
	if w := do(r, http.MethodGet, "/metrics", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, expected 401", w.Code)
	}

	w := do(r, http.MethodGet, "/metrics", "", "Authorization", "Bearer s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", w.Code)
	}
	want := `test_http_requests_total{method="GET",route="/api/system/metrics",status="200"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("exposition missing %s", want)
	}
}

func TestMetricsEndpoint_DisabledWithoutCollector(t *testing.T) {
	w := do(newTestRouter(newFakeCoordinator()), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", w.Code)
	}
}

func TestEventsRoute(t *testing.T) {
	var hits int
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	})
	r := newTestRouter(newFakeCoordinator(), func(o *RouterOptions) { o.Events = events })

	if w := do(r, http.MethodGet, "/ws/events", ""); w.Code != http.StatusTeapot || hits != 1 {
		t.Errorf("status = %d hits = %d, expected events handler", w.Code, hits)
	}
}

func TestCORS(t *testing.T) {
	r := newTestRouter(newFakeCoordinator(), func(o *RouterOptions) {
		o.AllowedOrigins = []string{"http://localhost:3000"}
	})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed preflight", http.MethodOptions, "http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"unknown origin", http.MethodGet, "http://evil.example", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.origin != "" {
				headers = []string{"Origin", tt.origin}
			}
			w := do(r, tt.method, "/health", "", headers...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, expected %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, expected %q", got, tt.wantAllow)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(logger.Discard()), Recovery(logger.Discard()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, expected 500", w.Code)
	}
	if id, _ := decode(t, w)["requestId"].(string); id == "" {
		t.Error("missing requestId in panic response")
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)
	r := newTestRouter(newFakeCoordinator(), func(o *RouterOptions) { o.RateLimiter = limiter })

	for i := 0; i < 3; i++ {
		if w := do(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, expected 200", i, w.Code)
		}
	}
	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, expected 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimiter(t *testing.T) {
	if NewRateLimiter(0, time.Minute) != nil || NewRateLimiter(10, 0) != nil {
		t.Error("NewRateLimiter() should be disabled for non-positive settings")
	}

	now := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	l := NewRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst requests should pass")
	}
	if l.Allow("a") {
		t.Error("third request inside window should be rejected")
	}
	if !l.Allow("b") {
		t.Error("other keys have their own bucket")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Error("token should refill after window/requests")
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if got := l.size(); got != 1 {
		t.Errorf("visitors = %d after sweep, expected 1", got)
	}
}
