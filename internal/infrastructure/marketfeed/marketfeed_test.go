package marketfeed

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

func TestMockFeed_Next(t *testing.T) {
	f := NewMockFeed(MockConfig{Seed: 42, MaxCandles: 50}, logger.Discard())

	var last *entity.MarketSnapshot
	var prevClose float64
	for i := 0; i < 120; i++ {
		last = f.Next()
		c := last.Candles[len(last.Candles)-1]

		if i > 0 && c.Open != prevClose {
			t.Fatalf("tick %d: Open = %v, expected previous close %v", i, c.Open, prevClose)
		}
		if c.Close < 108000 || c.Close > 132000 {
			t.Fatalf("tick %d: Close = %v outside ±10%% band", i, c.Close)
		}
		if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
			t.Fatalf("tick %d: candle %+v has inconsistent high/low", i, c)
		}
		if c.Volume < 1 {
			t.Fatalf("tick %d: Volume = %v, expected >= 1", i, c.Volume)
		}
		prevClose = c.Close
	}

	if len(last.Candles) != 50 || len(last.Trades) != 50 {
		t.Errorf("buffer = %d candles/%d trades, expected 50/50", len(last.Candles), len(last.Trades))
	}
	if last.Symbol != "WINQ25" {
		t.Errorf("Symbol = %s, expected WINQ25", last.Symbol)
	}
	trade := last.Trades[len(last.Trades)-1]
	if trade.Price != last.Candles[len(last.Candles)-1].Close {
		t.Errorf("trade price = %v, expected last close", trade.Price)
	}
	if trade.Side != "buy" && trade.Side != "sell" {
		t.Errorf("trade side = %q", trade.Side)
	}
	if got := f.Snapshot(); len(got.Candles) != 50 {
		t.Errorf("Snapshot() = %d candles, expected 50", len(got.Candles))
	}
}

func TestMockFeed_FirstCandleOpensAtBase(t *testing.T) {
	f := NewMockFeed(MockConfig{Symbol: "WINV25", BasePrice: 100000, Volatility: 10, Seed: 7}, logger.Discard())
	s := f.Next()
	if s.Candles[0].Open != 100000 {
		t.Errorf("Open = %v, expected base price", s.Candles[0].Open)
	}
	if s.Symbol != "WINV25" || s.Candles[0].Symbol != "WINV25" {
		t.Errorf("Symbol = %s/%s", s.Symbol, s.Candles[0].Symbol)
	}
}

func TestMockFeed_Run(t *testing.T) {
	f := NewMockFeed(MockConfig{Interval: 5 * time.Millisecond, Seed: 1}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(s *entity.MarketSnapshot) {
			if ticks.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("Run() did not stop")
	}
	if ticks.Load() < 3 {
		t.Errorf("ticks = %d, expected at least 3", ticks.Load())
	}
}

func wsServer(t *testing.T, handle func(conn *websocket.Conn, n int)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var count atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, int(count.Add(1)))
	}))
}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1)
}

type collected struct {
	mu        sync.Mutex
	snapshots []*entity.MarketSnapshot
}

func (c *collected) add(s *entity.MarketSnapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

func (c *collected) wait(t *testing.T, n int) []*entity.MarketSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		got := append([]*entity.MarketSnapshot(nil), c.snapshots...)
		c.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d snapshots, expected %d", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSFeed_Messages(t *testing.T) {
	subscribed := make(chan map[string]interface{}, 1)
	server := wsServer(t, func(conn *websocket.Conn, n int) {
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err == nil {
			subscribed <- sub
		}
		for _, msg := range []string{
			`{"channel":"snapshot","data":{"symbol":"WINQ25","candles":[{"close":120000},{"close":120010}],"trades":[]}}`,
			`not json`,
			`{"channel":"heartbeat","data":{}}`,
			`{"channel":"candle","data":{"open":120010,"close":120050,"high":120060,"low":120000}}`,
			`{"channel":"trade","data":{"price":120050,"volume":3,"side":"buy"}}`,
			`{"channel":"candle","data":{"open":1}}`,
		} {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	f := NewWSFeed(WSConfig{URL: wsURL(server), Symbol: "WINQ25", MaxCandles: 10}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collected
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, got.add) }()

	snapshots := got.wait(t, 3)
	sub := <-subscribed
	if sub["method"] != "subscribe" {
		t.Errorf("subscribe message = %v", sub)
	}
	if !f.Connected() {
		t.Error("Connected() = false while streaming")
	}

	last := snapshots[2]
	if len(last.Candles) != 3 || last.Candles[2].Close != 120050 {
		t.Errorf("candles = %+v, expected snapshot plus one candle", last.Candles)
	}
	if len(last.Trades) != 1 || last.Trades[0].Quantity != 3 {
		t.Errorf("trades = %+v", last.Trades)
	}
	if last.Symbol != "WINQ25" {
		t.Errorf("Symbol = %s", last.Symbol)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if len(got.wait(t, 3)) != 3 {
		t.Errorf("malformed messages should not produce snapshots")
	}
}

func TestWSFeed_Reconnects(t *testing.T) {
	server := wsServer(t, func(conn *websocket.Conn, n int) {
		conn.ReadMessage()
		if n == 1 {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"WINQ25","candles":[{"close":119000}]}`))
		time.Sleep(time.Second)
	})
	defer server.Close()

	f := NewWSFeed(WSConfig{URL: wsURL(server), Symbol: "WINQ25", ReconnectInterval: 10 * time.Millisecond}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collected
	go f.Run(ctx, got.add)

	s := got.wait(t, 1)[0]
	if price, ok := s.LastPrice(); !ok || price != 119000 {
		t.Errorf("LastPrice() = %v, %v, expected 119000 after reconnect", price, ok)
	}
}

func TestWSFeed_RequiresURL(t *testing.T) {
	f := NewWSFeed(WSConfig{}, logger.Discard())
	if err := f.Run(context.Background(), func(*entity.MarketSnapshot) {}); err == nil {
		t.Error("Run() without url should fail")
	}
}
