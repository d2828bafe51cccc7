package marketfeed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/zono819/winbot/internal/adapter/gateway"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

var _ gateway.MarketFeed = (*MockFeed)(nil)

// MockConfig configures the random-walk generator
type MockConfig struct {
	Symbol     string
	Interval   time.Duration
	BasePrice  float64
	Volatility float64
	MaxCandles int
	Seed       int64
}

// MockFeed generates one candle and one trade per tick. Closes random-walk
// around BasePrice and stay within ±10% of it.
type MockFeed struct {
	config MockConfig
	rng    *rand.Rand
	buf    *buffer
	log    *logger.Logger
	now    func() time.Time

	previous *entity.Candle
}

// NewMockFeed creates a mock feed with defaults applied
func NewMockFeed(cfg MockConfig, log *logger.Logger) *MockFeed {
	if cfg.Symbol == "" {
		cfg.Symbol = "WINQ25"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 120000
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 150
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = defaultMaxCandles
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if log == nil {
		log = logger.Default()
	}
	return &MockFeed{
		config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		buf:    newBuffer(cfg.Symbol, cfg.MaxCandles),
		log:    log.WithField("component", "mock-feed"),
		now:    time.Now,
	}
}

// Name returns the feed identifier
func (f *MockFeed) Name() string {
	return "mock"
}

// Run emits a snapshot immediately and then every interval until ctx is done
func (f *MockFeed) Run(ctx context.Context, handler func(*entity.MarketSnapshot)) error {
	f.log.Info("Mock feed started for %s every %s", f.config.Symbol, f.config.Interval)
	handler(f.Next())

	ticker := time.NewTicker(f.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("Mock feed stopped")
			return nil
		case <-ticker.C:
			handler(f.Next())
		}
	}
}

// Next generates one tick and returns the resulting snapshot
func (f *MockFeed) Next() *entity.MarketSnapshot {
	now := f.now()
	candle := f.candle(now)
	f.previous = &candle

	side := "sell"
	if f.rng.Float64() > 0.5 {
		side = "buy"
	}
	trade := entity.Trade{
		Symbol:    f.config.Symbol,
		Price:     candle.Close,
		Quantity:  math.Max(1, math.Round(f.rng.Float64()*10)),
		Side:      side,
		Timestamp: now,
	}
	return f.buf.add(&candle, &trade, now)
}

// Snapshot returns the current buffered state
func (f *MockFeed) Snapshot() *entity.MarketSnapshot {
	return f.buf.snapshot()
}

func (f *MockFeed) candle(now time.Time) entity.Candle {
	base, vol := f.config.BasePrice, f.config.Volatility

	open := base
	if f.previous != nil {
		open = f.previous.Close
	}
	change := (f.rng.Float64() - 0.5) * vol
	closePrice := clamp(open+change, base*0.9, base*1.1)
	high := math.Max(open, closePrice) + f.rng.Float64()*vol*0.5
	low := math.Min(open, closePrice) - f.rng.Float64()*vol*0.5
	volume := math.Max(1, math.Abs(math.Round((f.rng.Float64()+0.1)*500)))

	return entity.Candle{
		Symbol:    f.config.Symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Timestamp: now,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
