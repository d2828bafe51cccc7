package strategy

import (
	"context"
	"math"
	"testing"

	"github.com/zono819/winbot/internal/domain/entity"
)

func f(v float64) *float64 { return &v }

func TestTrendVWAPStrategy_GenerateSignal(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		ind        *entity.Indicators
		action     entity.Action
		confidence float64
		reason     string
	}{
		{
			name:  "bullish trend with low volatility",
			price: 120100,
			ind: &entity.Indicators{
				EMA9: f(120050), EMA20: f(120000), EMA200: f(119500), VWAP: f(120010), RSI: f(55),
				MACD:      &entity.MACD{MACD: 12, Signal: 8},
				Bollinger: &entity.Bollinger{Upper: 120300, Middle: 120000, Lower: 119700},
			},
			action:     entity.ActionBuy,
			confidence: 0.75,
			reason:     "Trend bullish (EMA20>EMA200) | Price above VWAP | MACD positive",
		},
		{
			name:  "bullish trend rsi above 60",
			price: 120100,
			ind: &entity.Indicators{
				EMA9: f(120050), EMA20: f(120000), EMA200: f(119500), VWAP: f(120010), RSI: f(65),
				MACD: &entity.MACD{MACD: 12, Signal: 8},
			},
			action:     entity.ActionBuy,
			confidence: 0.6,
		},
		{
			name:  "bearish trend",
			price: 119000,
			ind: &entity.Indicators{
				EMA9: f(119100), EMA20: f(119200), EMA200: f(119800), VWAP: f(119300), RSI: f(45),
				MACD: &entity.MACD{MACD: -5, Signal: -1},
			},
			action:     entity.ActionSell,
			confidence: 0.7,
			reason:     "Trend bearish (EMA20<EMA200) | Price below VWAP | MACD negative",
		},
		{
			name:  "macd missing blocks bullish momentum",
			price: 120100,
			ind: &entity.Indicators{
				EMA9: f(120050), EMA20: f(120000), EMA200: f(119500), VWAP: f(120010), RSI: f(55),
			},
			action: entity.ActionHold,
			reason: "no-edge",
		},
		{
			name:  "upper band reversal",
			price: 120400,
			ind: &entity.Indicators{
				RSI:       f(75),
				Bollinger: &entity.Bollinger{Upper: 120300, Middle: 120000, Lower: 119700},
			},
			action:     entity.ActionSell,
			confidence: 0.55,
			reason:     "Price at Bollinger upper band with RSI > 70",
		},
		{
			name:  "lower band reversal",
			price: 119600,
			ind: &entity.Indicators{
				RSI:       f(25),
				Bollinger: &entity.Bollinger{Upper: 120300, Middle: 120000, Lower: 119700},
			},
			action:     entity.ActionBuy,
			confidence: 0.55,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTrendVWAPStrategy()
			s.UpdateMarket(snapshotOf(tt.price), tt.ind)

			sig := s.GenerateSignal(context.Background())
			if sig.Action != tt.action {
				t.Fatalf("Action = %s, expected %s (%s)", sig.Action, tt.action, sig.Reason)
			}
			if math.Abs(sig.Confidence-tt.confidence) > 1e-9 {
				t.Errorf("Confidence = %v, expected %v", sig.Confidence, tt.confidence)
			}
			if tt.reason != "" && sig.Reason != tt.reason {
				t.Errorf("Reason = %q, expected %q", sig.Reason, tt.reason)
			}
			if sig.Quantity == nil || *sig.Quantity != 1 {
				t.Errorf("Quantity = %v, expected default 1", sig.Quantity)
			}
			if sig.Price == nil || *sig.Price != tt.price {
				t.Errorf("Price = %v, expected %v", sig.Price, tt.price)
			}
		})
	}
}

func TestTrendVWAPStrategy_ConfidenceCap(t *testing.T) {
	s := NewTrendVWAPStrategy()
	s.Init(context.Background(), map[string]interface{}{"base_confidence": 0.75})
	s.UpdateMarket(snapshotOf(120100), &entity.Indicators{
		EMA9: f(120050), EMA20: f(120000), EMA200: f(119500), VWAP: f(120010), RSI: f(50),
		MACD:      &entity.MACD{MACD: 12, Signal: 8},
		Bollinger: &entity.Bollinger{Upper: 120100, Lower: 119900},
	})

	sig := s.GenerateSignal(context.Background())
	if sig.Confidence != 0.8 {
		t.Errorf("Confidence = %v, expected cap 0.8", sig.Confidence)
	}
}

func TestTrendVWAPStrategy_MissingData(t *testing.T) {
	s := NewTrendVWAPStrategy()
	ctx := context.Background()

	if sig := s.GenerateSignal(ctx); sig.Reason != "missing-data" || sig.Action != entity.ActionHold {
		t.Errorf("GenerateSignal() = %s/%s, expected HOLD/missing-data", sig.Action, sig.Reason)
	}

	s.UpdateMarket(&entity.MarketSnapshot{Symbol: "WIN"}, &entity.Indicators{})
	if sig := s.GenerateSignal(ctx); sig.Reason != "no-price" {
		t.Errorf("GenerateSignal() = %s, expected no-price", sig.Reason)
	}
}

func TestTrendVWAPStrategy_StatusTracksLastSignal(t *testing.T) {
	s := NewTrendVWAPStrategy()
	s.Init(context.Background(), map[string]interface{}{"symbol": "WINJ25", "default_quantity": float64(2)})
	s.UpdateMarket(snapshotOf(120000), &entity.Indicators{})
	s.GenerateSignal(context.Background())

	st := s.Status()
	if st["symbol"] != "WINJ25" || st["defaultQuantity"] != 2 {
		t.Errorf("Status() = %+v", st)
	}
	last, ok := st["lastSignal"].(*entity.Signal)
	if !ok || last == nil || last.Reason != "no-edge" || *last.Quantity != 2 {
		t.Errorf("lastSignal = %+v", st["lastSignal"])
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	names := r.List()
	if len(names) != 2 || names[0] != "mean_reversion" || names[1] != "trend_vwap" {
		t.Errorf("List() = %v", names)
	}

	s, err := r.Create("trend_vwap")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Name() != "trend_vwap" {
		t.Errorf("Name() = %s, expected trend_vwap", s.Name())
	}

	other, _ := r.Create("trend_vwap")
	if other == s {
		t.Errorf("Create() should return a new instance each call")
	}

	if _, err := r.Create("unknown"); err == nil {
		t.Errorf("Create(unknown) should fail")
	}
}
