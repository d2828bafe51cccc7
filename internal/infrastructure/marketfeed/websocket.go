package marketfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zono819/winbot/internal/adapter/gateway"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

var _ gateway.MarketFeed = (*WSFeed)(nil)

const (
	defaultReconnectInterval = 5 * time.Second
	defaultReadTimeout       = 60 * time.Second
)

// WSConfig configures the websocket feed
type WSConfig struct {
	URL               string
	Symbol            string
	MaxCandles        int
	ReconnectInterval time.Duration
	ReadTimeout       time.Duration
}

// WSFeed receives market data from a websocket endpoint. Messages use a
// {"channel": ..., "data": ...} envelope with channels "snapshot", "candle"
// and "trade"; a bare snapshot object is accepted as well.
type WSFeed struct {
	config WSConfig
	dialer *websocket.Dialer
	buf    *buffer
	log    *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	connected bool
}

// NewWSFeed creates a websocket feed
func NewWSFeed(cfg WSConfig, log *logger.Logger) *WSFeed {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	return &WSFeed{
		config: cfg,
		dialer: websocket.DefaultDialer,
		buf:    newBuffer(cfg.Symbol, cfg.MaxCandles),
		log:    log.WithField("component", "ws-feed"),
		now:    time.Now,
	}
}

// Name returns the feed identifier
func (f *WSFeed) Name() string {
	return "websocket"
}

// Connected reports whether the socket is currently open
func (f *WSFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Snapshot returns the current buffered state
func (f *WSFeed) Snapshot() *entity.MarketSnapshot {
	return f.buf.snapshot()
}

// Run connects and reconnects until ctx is done
func (f *WSFeed) Run(ctx context.Context, handler func(*entity.MarketSnapshot)) error {
	if f.config.URL == "" {
		return errors.New("market feed url is empty")
	}
	for {
		err := f.session(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("Market feed disconnected: %v; reconnecting in %s", err, f.config.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.config.ReconnectInterval):
		}
	}
}

func (f *WSFeed) session(ctx context.Context, handler func(*entity.MarketSnapshot)) error {
	conn, _, err := f.dialer.DialContext(ctx, f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	f.setConnected(true)
	defer f.setConnected(false)
	f.log.Info("Market feed connected to %s", f.config.URL)

	if f.config.Symbol != "" {
		sub := map[string]interface{}{
			"method": "subscribe",
			"subscription": map[string]interface{}{
				"type":   "market",
				"symbol": f.config.Symbol,
			},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	// unblock ReadMessage on shutdown
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		conn.SetReadDeadline(f.now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		snapshot, err := f.handleMessage(message)
		if err != nil {
			f.log.Debug("Ignoring market message: %v", err)
			continue
		}
		if snapshot != nil {
			handler(snapshot)
		}
	}
}

func (f *WSFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// handleMessage applies one message to the buffer and returns the new snapshot
func (f *WSFeed) handleMessage(data []byte) (*entity.MarketSnapshot, error) {
	var msg struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	now := f.now()
	switch msg.Channel {
	case "snapshot":
		return f.replace(msg.Data, now)
	case "candle":
		var c entity.Candle
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			return nil, fmt.Errorf("decode candle: %w", err)
		}
		if c.Close <= 0 {
			return nil, errors.New("candle without close")
		}
		return f.buf.add(&c, nil, now), nil
	case "trade":
		var t entity.Trade
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		return f.buf.add(nil, &t, now), nil
	case "":
		return f.replace(data, now)
	default:
		return nil, nil
	}
}

func (f *WSFeed) replace(data []byte, now time.Time) (*entity.MarketSnapshot, error) {
	var s entity.MarketSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Candles == nil && s.Trades == nil {
		return nil, errors.New("snapshot without candles or trades")
	}
	return f.buf.replace(&s, now), nil
}
