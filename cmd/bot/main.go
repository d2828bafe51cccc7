package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/zono819/winbot/internal/adapter/gateway"
	httpapi "github.com/zono819/winbot/internal/adapter/http"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/domain/service"
	"github.com/zono819/winbot/internal/infrastructure/advisory"
	"github.com/zono819/winbot/internal/infrastructure/config"
	"github.com/zono819/winbot/internal/infrastructure/eventbus"
	"github.com/zono819/winbot/internal/infrastructure/fix"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/infrastructure/marketfeed"
	"github.com/zono819/winbot/internal/infrastructure/memstore"
	"github.com/zono819/winbot/internal/infrastructure/metrics"
	"github.com/zono819/winbot/internal/usecase"
	"github.com/zono819/winbot/internal/usecase/risk"
	"github.com/zono819/winbot/internal/usecase/strategy"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	envPath := flag.String("env", "", "optional .env file loaded before the config")
	showVersion := flag.Bool("version", false, "show version")
	dryRun := flag.Bool("dry-run", false, "force the broker session into simulate mode")
	flag.Parse()

	if *showVersion {
		fmt.Printf("winbot %s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		logger.Default().Warn("Ignoring unreadable env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Default().Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.FIX.Simulate = true
	}

	log, closer, err := logger.Open(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		logger.Default().Error("Failed to open logger: %v", err)
		os.Exit(1)
	}
	defer closer.Close()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Bot error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// app holds every long-lived component
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	coord   *usecase.Coordinator
	session *fix.Session
	feed    gateway.MarketFeed
	metrics *metrics.Metrics
	hub     *eventbus.Hub
	kafka   *eventbus.KafkaPublisher
	server  *httpapi.Server
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting %s %s in %s mode", cfg.App.Name, version, cfg.App.Environment)
	log.Info("Strategy: %s, Symbol: %s", cfg.Strategy.Name, cfg.Strategy.Symbol)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error {
		return a.feed.Run(gctx, func(s *entity.MarketSnapshot) {
			a.coord.UpdateMarketData(gctx, s)
		})
	})
	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Run(gctx) })
	}

	if cfg.App.AutoStart {
		if err := a.coord.Start(gctx, map[string]interface{}{"source": "auto-start"}); err != nil {
			log.Error("Auto start failed: %v", err)
		}
	}

	err = g.Wait()
	a.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Bot stopped")
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	strat, err := strategy.DefaultRegistry().Create(cfg.Strategy.Name)
	if err != nil {
		return nil, err
	}
	if err := strat.Init(ctx, cfg.Strategy.Params); err != nil {
		return nil, fmt.Errorf("failed to init strategy: %w", err)
	}

	consensus, advisor := newAdvisories(cfg.AI, log)

	a.coord = usecase.NewCoordinator(usecase.Options{
		Risk:        riskConfig(cfg.Risk),
		Strategy:    strat,
		Consensus:   consensus,
		Advisor:     advisor,
		Repository:  memstore.NewOrderStore(),
		Symbol:      cfg.Strategy.Symbol,
		AutoTrade:   cfg.AI.AutoTrade,
		LLMCacheTTL: cfg.AI.CacheTTL,
		RLCacheTTL:  cfg.AI.RL.CacheTTL,
		LLMTimeout:  cfg.AI.RequestTimeout,
		RLTimeout:   cfg.AI.RL.Timeout,
		Logger:      log,
	})

	if cfg.FIX.Enabled {
		a.session = fix.NewSession(fix.Config{
			BeginString:        cfg.FIX.BeginString,
			Host:               cfg.FIX.Host,
			Port:               cfg.FIX.Port,
			SenderCompID:       cfg.FIX.SenderCompID,
			TargetCompID:       cfg.FIX.TargetCompID,
			HeartBtInt:         cfg.FIX.HeartBtInt,
			ResetSeqNumFlag:    cfg.FIX.ResetSeqNumFlag,
			Username:           cfg.FIX.Username,
			Password:           cfg.FIX.Password,
			Account:            cfg.FIX.Account,
			Symbol:             cfg.FIX.Symbol,
			ReconnectInterval:  cfg.FIX.ReconnectInterval,
			Simulate:           cfg.FIX.Simulate,
			SimulatedFillDelay: cfg.FIX.SimulatedFillDelay,
		}, log)
		a.coord.AttachSession(a.session)
		if a.session.Simulated() {
			log.Info("Broker session in SIMULATE mode - no orders leave the process")
		} else {
			log.Warn("Broker session LIVE against %s:%d", cfg.FIX.Host, cfg.FIX.Port)
		}
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
		a.coord.Subscribe(a.metrics.Observe)
	}

	a.hub = eventbus.NewHub(eventbus.HubOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Greeting: func() event.Event {
			return event.Event{Name: "status", Payload: a.coord.Status(), At: time.Now()}
		},
		Logger: log,
	})
	a.coord.Subscribe(a.hub.Publish)

	if cfg.Events.Kafka.Enabled {
		a.kafka, err = eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers:    cfg.Events.Kafka.Brokers,
			Topic:      cfg.Events.Kafka.Topic,
			MaxRetries: cfg.Events.Kafka.MaxRetries,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.coord.Subscribe(a.kafka.Handle)
	}

	if cfg.Feed.URL != "" {
		a.feed = marketfeed.NewWSFeed(marketfeed.WSConfig{
			URL:        cfg.Feed.URL,
			Symbol:     cfg.Feed.Symbol,
			MaxCandles: cfg.Feed.MaxCandles,
		}, log)
	} else {
		a.feed = marketfeed.NewMockFeed(marketfeed.MockConfig{
			Symbol:     cfg.Feed.Symbol,
			Interval:   cfg.Feed.Interval,
			BasePrice:  cfg.Feed.BasePrice,
			Volatility: cfg.Feed.Volatility,
			MaxCandles: cfg.Feed.MaxCandles,
		}, log)
	}
	log.Info("Market feed: %s", a.feed.Name())

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.RouterOptions{
		Coordinator:    a.coord,
		Events:         a.hub,
		Metrics:        a.metrics,
		MetricsToken:   cfg.Metrics.Token,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimiter:    httpapi.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow),
		Logger:         log,
	})
	a.server = httpapi.NewServer(cfg.HTTP.Addr(), router, cfg.App.GracePeriod, log)

	return a, nil
}

// newAdvisories builds the LLM consensus and RL advisor. Either may be nil.
func newAdvisories(cfg config.AIConfig, log *logger.Logger) (service.ConsensusProvider, service.ActionAdvisor) {
	if !cfg.Enabled {
		return nil, nil
	}

	var providers []advisory.Provider
	if cfg.ChatGPT.APIKey != "" {
		providers = append(providers, advisory.NewChatGPT(cfg.ChatGPT.APIKey, cfg.ChatGPT.Model, cfg.ChatGPT.Temperature, cfg.RequestTimeout))
	}
	if cfg.DeepSeek.APIKey != "" {
		providers = append(providers, advisory.NewDeepSeek(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, cfg.DeepSeek.Model, cfg.DeepSeek.Temperature, cfg.RequestTimeout))
	}

	var consensus service.ConsensusProvider
	if len(providers) > 0 {
		o := advisory.NewOrchestrator(advisory.OrchestratorConfig{
			CacheTTL:        cfg.CacheTTL,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
		}, log, providers...)
		log.Info("LLM advisory providers: %v", o.Providers())
		consensus = o
	}

	var advisor service.ActionAdvisor
	if cfg.RL.Enabled && cfg.RL.Endpoint != "" {
		advisor = advisory.NewRLClient(advisory.RLConfig{
			Endpoint: cfg.RL.Endpoint,
			APIKey:   cfg.RL.APIKey,
			Timeout:  cfg.RL.Timeout,
		})
		log.Info("RL advisor at %s", cfg.RL.Endpoint)
	}
	return consensus, advisor
}

func riskConfig(c config.RiskConfig) *risk.Config {
	return &risk.Config{
		Capital:              c.Capital,
		ContractMultiplier:   c.ContractMultiplier,
		DailyTargetPct:       c.DailyTargetPct,
		DailyLossLimitPct:    c.DailyLossLimitPct,
		MaxContractsPerOrder: c.MaxContractsPerOrder,
		MaxNetExposure:       c.MaxNetExposure,
		MaxTradesPerDay:      c.MaxTradesPerDay,
		DefaultQuantity:      c.DefaultQuantity,
		HourlyTargetPct:      c.HourlyTargetPct,
	}
}

// shutdown stops trading and releases every component
func (a *app) shutdown() {
	a.log.Info("Shutting down...")
	grace := a.cfg.App.GracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := a.coord.Stop(ctx, map[string]interface{}{"reason": "shutdown"}); err != nil {
		a.log.Error("Failed to stop coordinator: %v", err)
	}
	if a.session != nil {
		if err := a.session.Disconnect(ctx, "shutdown"); err != nil {
			a.log.Error("Failed to disconnect session: %v", err)
		}
	}
	a.coord.Close()
	a.hub.Close()
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Error("Failed to close kafka publisher: %v", err)
		}
	}
}
