package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Risk       RiskConfig       `mapstructure:"risk"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Reasoning  ReasoningConfig  `mapstructure:"reasoning"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Name string `mapstructure:"name"`
}

// IsProduction reports whether stack traces must be withheld from API errors.
func (c AppConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "prod" || env == "production"
}

type ServerConfig struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AuthToken guards /api routes when set.
	AuthToken string `mapstructure:"auth_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Spec          string `mapstructure:"spec"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

type EngineConfig struct {
	SlippageBps      int           `mapstructure:"slippage_bps"`
	FeeBps           int           `mapstructure:"fee_bps"`
	CandleInterval   string        `mapstructure:"candle_interval"`
	CandleCount      int           `mapstructure:"candle_count"`
	RecentDecisions  int           `mapstructure:"recent_decisions"`
	StartingEquity   float64       `mapstructure:"starting_equity"`
	TickTimeoutFloor time.Duration `mapstructure:"tick_timeout_floor"`
	ReconcileTol     float64       `mapstructure:"reconcile_tolerance"`
}

type RiskConfig struct {
	DefaultMinConfidence float64 `mapstructure:"default_min_confidence"`
	EquityFraction       float64 `mapstructure:"equity_fraction"`
	CloseTolerance       float64 `mapstructure:"close_tolerance"`
	EstimatedSlippagePct float64 `mapstructure:"estimated_slippage_pct"`
	UseOrderbookSlippage bool    `mapstructure:"use_orderbook_slippage"`
}

type MarketDataConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	StreamEnabled  bool          `mapstructure:"stream_enabled"`
	StreamURL      string        `mapstructure:"stream_url"`
	StreamMaxAge   time.Duration `mapstructure:"stream_max_age"`
	AssetCacheSize int           `mapstructure:"asset_cache_size"`
}

type ExchangeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Venue             string        `mapstructure:"venue"`
	PriceSigFigs      int           `mapstructure:"price_sig_figs"`
	DefaultSizeDec    int           `mapstructure:"default_size_decimals"`
	CredentialsPrefix string        `mapstructure:"credentials_prefix"`
}

type ReasoningConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	MaxRetries      int                       `mapstructure:"max_retries"`
	InitialBackoff  time.Duration             `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration             `mapstructure:"max_backoff"`
	MaxTokens       int                       `mapstructure:"max_tokens"`
	Timeout         time.Duration             `mapstructure:"timeout"`
}

type ProviderConfig struct {
	Kind      string `mapstructure:"kind"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.name", "tradeloop")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.slow_query", "500ms")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "tradeloop:")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 5s")
	v.SetDefault("scheduler.max_concurrent", 8)

	v.SetDefault("engine.slippage_bps", 5)
	v.SetDefault("engine.fee_bps", 5)
	v.SetDefault("engine.candle_interval", "15m")
	v.SetDefault("engine.candle_count", 100)
	v.SetDefault("engine.recent_decisions", 5)
	v.SetDefault("engine.starting_equity", 10000)
	v.SetDefault("engine.tick_timeout_floor", "30s")
	v.SetDefault("engine.reconcile_tolerance", 0.01)

	v.SetDefault("risk.default_min_confidence", 0.65)
	v.SetDefault("risk.equity_fraction", 0.1)
	v.SetDefault("risk.close_tolerance", 0.05)
	v.SetDefault("risk.estimated_slippage_pct", 0.05)
	v.SetDefault("risk.use_orderbook_slippage", false)

	v.SetDefault("market_data.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("market_data.timeout", "10s")
	v.SetDefault("market_data.stream_enabled", false)
	v.SetDefault("market_data.stream_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("market_data.stream_max_age", "10s")

	v.SetDefault("exchange.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchange.timeout", "15s")
	v.SetDefault("exchange.venue", "hyperliquid")
	v.SetDefault("exchange.price_sig_figs", 5)
	v.SetDefault("exchange.default_size_decimals", 4)
	v.SetDefault("exchange.credentials_prefix", "TL_VENUE_")

	v.SetDefault("reasoning.default_provider", "openai")
	v.SetDefault("reasoning.max_retries", 3)
	v.SetDefault("reasoning.initial_backoff", "1s")
	v.SetDefault("reasoning.max_backoff", "20s")
	v.SetDefault("reasoning.max_tokens", 1024)
	v.SetDefault("reasoning.timeout", "60s")
	v.SetDefault("reasoning.providers", DefaultProviders())

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultProviders is the provider→endpoint table handed to the reasoning client.
func DefaultProviders() map[string]any {
	return map[string]any{
		"openai":     map[string]any{"kind": "openai", "base_url": "https://api.openai.com/v1", "api_key_env": "OPENAI_API_KEY"},
		"deepseek":   map[string]any{"kind": "openai", "base_url": "https://api.deepseek.com/v1", "api_key_env": "DEEPSEEK_API_KEY"},
		"openrouter": map[string]any{"kind": "openai", "base_url": "https://openrouter.ai/api/v1", "api_key_env": "OPENROUTER_API_KEY"},
		"xai":        map[string]any{"kind": "openai", "base_url": "https://api.x.ai/v1", "api_key_env": "XAI_API_KEY"},
		"qwen":       map[string]any{"kind": "openai", "base_url": "https://dashscope-intl.aliyuncs.com/compatible-mode/v1", "api_key_env": "DASHSCOPE_API_KEY"},
		"anthropic":  map[string]any{"kind": "anthropic", "base_url": "https://api.anthropic.com", "api_key_env": "ANTHROPIC_API_KEY"},
	}
}
