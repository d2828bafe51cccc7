package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Risk     RiskConfig     `yaml:"risk"`
	FIX      FIXConfig      `yaml:"fix"`
	Strategy StrategyConfig `yaml:"strategy"`
	AI       AIConfig       `yaml:"ai"`
	Feed     FeedConfig     `yaml:"feed"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig represents application settings
type AppConfig struct {
	Name        string        `yaml:"name"`
	Environment string        `yaml:"environment"`
	Debug       bool          `yaml:"debug"`
	GracePeriod time.Duration `yaml:"grace_period"`
	AutoStart   bool          `yaml:"auto_start"`
}

// HTTPConfig represents the API listener
type HTTPConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit requests per RateWindow per client IP; 0 disables
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// Addr returns host:port
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LogConfig represents logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RiskConfig represents risk management settings
type RiskConfig struct {
	Capital              float64 `yaml:"capital"`
	ContractMultiplier   float64 `yaml:"contract_multiplier"`
	DailyTargetPct       float64 `yaml:"daily_target_pct"`
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"`
	MaxContractsPerOrder int     `yaml:"max_contracts_per_order"`
	MaxNetExposure       int     `yaml:"max_net_exposure"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	DefaultQuantity      int     `yaml:"default_quantity"`
	HourlyTargetPct      float64 `yaml:"hourly_target_pct"`
}

// FIXConfig represents the broker session settings
type FIXConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BeginString        string        `yaml:"begin_string"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	SenderCompID       string        `yaml:"sender_comp_id"`
	TargetCompID       string        `yaml:"target_comp_id"`
	HeartBtInt         int           `yaml:"heartbeat_interval"`
	ResetSeqNumFlag    bool          `yaml:"reset_seq_num"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Account            string        `yaml:"account"`
	Symbol             string        `yaml:"symbol"`
	ReconnectInterval  time.Duration `yaml:"reconnect_interval"`
	Simulate           bool          `yaml:"simulate"`
	SimulatedFillDelay time.Duration `yaml:"simulated_fill_delay"`
}

// StrategyConfig represents strategy settings
type StrategyConfig struct {
	Name   string                 `yaml:"name"`
	Symbol string                 `yaml:"symbol"`
	Params map[string]interface{} `yaml:"params"`
}

// AIConfig represents advisory settings
type AIConfig struct {
	Enabled         bool           `yaml:"enabled"`
	AutoTrade       bool           `yaml:"auto_trade"`
	CacheTTL        time.Duration  `yaml:"cache_ttl"`
	RequestTimeout  time.Duration  `yaml:"request_timeout"`
	BreakerFailures uint32         `yaml:"breaker_failures"`
	BreakerCooldown time.Duration  `yaml:"breaker_cooldown"`
	ChatGPT         ProviderConfig `yaml:"chatgpt"`
	DeepSeek        ProviderConfig `yaml:"deepseek"`
	RL              RLConfig       `yaml:"rl"`
}

// ProviderConfig represents a chat-completions provider
type ProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	BaseURL     string  `yaml:"base_url"`
}

// RLConfig represents the reinforcement-learning agent endpoint
type RLConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// FeedConfig represents market data settings
type FeedConfig struct {
	URL        string        `yaml:"url"`
	Symbol     string        `yaml:"symbol"`
	Interval   time.Duration `yaml:"interval"`
	BasePrice  float64       `yaml:"base_price"`
	Volatility float64       `yaml:"volatility"`
	MaxCandles int           `yaml:"max_candles"`
}

// EventsConfig represents outbound event sinks
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig represents the kafka publisher
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	MaxRetries int      `yaml:"max_retries"`
}

// MetricsConfig represents prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	Namespace string `yaml:"namespace"`
}

// Default returns configuration with every default applied
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "winbot",
			Environment: "development",
			GracePeriod: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:           "127.0.0.1",
			Port:           3001,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      400,
			RateWindow:     15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Risk: RiskConfig{
			Capital:              100000,
			ContractMultiplier:   0.2,
			DailyTargetPct:       0.02,
			DailyLossLimitPct:    0.01,
			MaxContractsPerOrder: 2,
			MaxNetExposure:       10,
			MaxTradesPerDay:      300,
			DefaultQuantity:      1,
			HourlyTargetPct:      0.0025,
		},
		FIX: FIXConfig{
			Enabled:            true,
			BeginString:        "FIX.4.4",
			HeartBtInt:         30,
			ResetSeqNumFlag:    true,
			Symbol:             "WIN",
			ReconnectInterval:  5 * time.Second,
			SimulatedFillDelay: 150 * time.Millisecond,
		},
		Strategy: StrategyConfig{
			Name:   "trend_vwap",
			Symbol: "WIN",
		},
		AI: AIConfig{
			Enabled:         true,
			CacheTTL:        60 * time.Second,
			RequestTimeout:  10 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
			ChatGPT: ProviderConfig{
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				BaseURL:     "https://api.openai.com/v1",
			},
			DeepSeek: ProviderConfig{
				Model:       "deepseek-chat",
				Temperature: 0.3,
				BaseURL:     "https://api.deepseek.com",
			},
			RL: RLConfig{
				Timeout:  2 * time.Second,
				CacheTTL: 30 * time.Second,
			},
		},
		Feed: FeedConfig{
			Symbol:     "WINQ25",
			Interval:   time.Second,
			BasePrice:  120000,
			Volatility: 150,
			MaxCandles: 200,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Topic:      "winbot.events",
				MaxRetries: 3,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "winbot",
		},
	}
}

// LoadDotEnv loads .env files without overriding variables already set.
// Earlier paths take precedence. Missing files are skipped; files that
// exist but fail to parse are reported and the rest are still loaded.
func LoadDotEnv(paths ...string) error {
	candidates := append([]string{os.Getenv("WINBOT_ENV_PATH")}, paths...)
	candidates = append(candidates, ".env.local", ".env")
	var errs []error
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Load loads configuration from YAML file with env overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	cfg.loadEnvOverrides()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides overrides config with environment variables
func (c *Config) loadEnvOverrides() {
	// App settings
	envString("APP_ENVIRONMENT", &c.App.Environment)
	envBool("APP_DEBUG", &c.App.Debug)
	envBool("APP_AUTO_START", &c.App.AutoStart)

	// HTTP settings
	envString("HOST", &c.HTTP.Host)
	envInt("PORT", &c.HTTP.Port)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = parseList(v)
	}

	// Log settings
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
	envString("LOG_OUTPUT", &c.Log.Output)
	envString("LOG_FILE", &c.Log.FilePath)

	// Risk settings
	envFloat("TRADING_CAPITAL", &c.Risk.Capital)
	envFloat("CONTRACT_MULTIPLIER", &c.Risk.ContractMultiplier)
	envFloat("DAILY_TARGET_PCT", &c.Risk.DailyTargetPct)
	envFloat("DAILY_LOSS_LIMIT_PCT", &c.Risk.DailyLossLimitPct)
	envInt("RISK_MAX_CONTRACTS_PER_ORDER", &c.Risk.MaxContractsPerOrder)
	envInt("RISK_MAX_NET_EXPOSURE", &c.Risk.MaxNetExposure)
	envInt("RISK_MAX_TRADES_PER_DAY", &c.Risk.MaxTradesPerDay)
	envInt("DEFAULT_POSITION_SIZE", &c.Risk.DefaultQuantity)
	envFloat("HOURLY_TARGET_PCT", &c.Risk.HourlyTargetPct)

	// FIX settings
	if v := os.Getenv("FIX_ENABLED"); v != "" {
		c.FIX.Enabled = v != "false"
	}
	envString("FIX_HOST", &c.FIX.Host)
	envInt("FIX_PORT", &c.FIX.Port)
	envString("FIX_SENDER_COMP_ID", &c.FIX.SenderCompID)
	envString("FIX_TARGET_COMP_ID", &c.FIX.TargetCompID)
	envInt("FIX_HEARTBTINT", &c.FIX.HeartBtInt)
	if v := os.Getenv("FIX_RESET_SEQ"); v != "" {
		c.FIX.ResetSeqNumFlag = v != "false"
	}
	envString("FIX_USERNAME", &c.FIX.Username)
	envString("FIX_PASSWORD", &c.FIX.Password)
	envString("FIX_ACCOUNT", &c.FIX.Account)
	envString("FIX_SYMBOL", &c.FIX.Symbol)
	envMillis("FIX_RECONNECT_INTERVAL_MS", &c.FIX.ReconnectInterval)
	envBool("FIX_SIMULATE", &c.FIX.Simulate)

	// Strategy settings
	envString("STRATEGY_NAME", &c.Strategy.Name)
	envString("STRATEGY_SYMBOL", &c.Strategy.Symbol)

	// AI settings
	if v := os.Getenv("AI_ENABLED"); v != "" {
		c.AI.Enabled = v != "false"
	}
	envBool("AI_AUTOTRADE", &c.AI.AutoTrade)
	envMillis("AI_CACHE_TTL_MS", &c.AI.CacheTTL)
	envString("OPENAI_API_KEY", &c.AI.ChatGPT.APIKey)
	envString("CHATGPT_API_KEY", &c.AI.ChatGPT.APIKey)
	envString("CHATGPT_MODEL", &c.AI.ChatGPT.Model)
	envFloat("CHATGPT_TEMPERATURE", &c.AI.ChatGPT.Temperature)
	envString("DEEPSEEK_API_KEY", &c.AI.DeepSeek.APIKey)
	envString("DEEPSEEK_MODEL", &c.AI.DeepSeek.Model)
	envFloat("DEEPSEEK_TEMPERATURE", &c.AI.DeepSeek.Temperature)
	envString("DEEPSEEK_BASE_URL", &c.AI.DeepSeek.BaseURL)
	envBool("RL_ENABLED", &c.AI.RL.Enabled)
	envString("RL_ENDPOINT", &c.AI.RL.Endpoint)
	envString("RL_API_KEY", &c.AI.RL.APIKey)
	envMillis("RL_TIMEOUT_MS", &c.AI.RL.Timeout)
	envMillis("RL_CACHE_TTL_MS", &c.AI.RL.CacheTTL)

	// Feed settings
	envString("MARKET_FEED_URL", &c.Feed.URL)
	envString("MARKET_SYMBOL", &c.Feed.Symbol)

	// Event sinks
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = parseList(v)
		c.Events.Kafka.Enabled = true
	}
	envString("KAFKA_TOPIC", &c.Events.Kafka.Topic)

	// Metrics
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v != "false"
	}
	envString("METRICS_TOKEN", &c.Metrics.Token)
}

// validate validates configuration
func (c *Config) validate() error {
	if c.Risk.Capital <= 0 {
		return fmt.Errorf("risk.capital must be positive")
	}
	if c.Risk.ContractMultiplier <= 0 {
		return fmt.Errorf("risk.contract_multiplier must be positive")
	}
	if c.Risk.DailyTargetPct <= 0 || c.Risk.DailyLossLimitPct <= 0 {
		return fmt.Errorf("risk target and loss limit fractions must be positive")
	}
	if c.Risk.MaxContractsPerOrder < 1 {
		return fmt.Errorf("risk.max_contracts_per_order must be at least 1")
	}
	if c.Risk.MaxNetExposure < 1 {
		return fmt.Errorf("risk.max_net_exposure must be at least 1")
	}
	if c.Risk.MaxTradesPerDay < 1 {
		return fmt.Errorf("risk.max_trades_per_day must be at least 1")
	}
	if c.Risk.DefaultQuantity < 1 {
		c.Risk.DefaultQuantity = 1 // default
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.FIX.Port < 0 || c.FIX.Port > 65535 {
		return fmt.Errorf("fix.port %d out of range", c.FIX.Port)
	}
	if c.FIX.HeartBtInt <= 0 {
		c.FIX.HeartBtInt = 30 // default
	}
	if c.FIX.ReconnectInterval <= 0 {
		c.FIX.ReconnectInterval = 5 * time.Second
	}
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func parseList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
