package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. Values come from defaults,
// an optional config.yaml, and environment variables (REDIS_ADDR,
// SIGNAL_TTL, FEED_URL, ...), in increasing priority.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// MetricsAddr serves /metrics and /healthz for the stand-alone feed.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log   LogConfig   `mapstructure:"log"`
	Redis RedisConfig `mapstructure:"redis"`

	// SQLitePath is the candle archive. Empty disables archiving.
	SQLitePath string `mapstructure:"sqlite_path"`

	Signal    SignalConfig    `mapstructure:"signal"`
	Source    SourceConfig    `mapstructure:"source"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Warm      WarmConfig      `mapstructure:"warm"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
}

// LogConfig controls the slog handler and optional rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxAgeDays int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// RedisConfig configures the cache and candle-window store. An empty Addr
// runs the service on in-memory stores.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SignalConfig holds freshness and validity parameters.
type SignalConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`         // freshness window
	StorageTTL time.Duration `mapstructure:"storage_ttl"` // expiry applied at the store
	MinCandles int           `mapstructure:"min_candles"`
}

// SourceConfig configures the market-data providers.
type SourceConfig struct {
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	OutputSize        int           `mapstructure:"output_size"`
	Catalog           string        `mapstructure:"catalog"` // optional instruments YAML
	TwelveDataKey     string        `mapstructure:"twelvedata_key"`
	TwelveDataURL     string        `mapstructure:"twelvedata_url"`
	YahooURL          string        `mapstructure:"yahoo_url"`
	MetalsKey         string        `mapstructure:"metals_key"`
	MetalsURL         string        `mapstructure:"metals_url"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerResetAfter time.Duration `mapstructure:"breaker_reset"`
}

// FeedConfig configures the live tick feed and the candle aggregator.
type FeedConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Symbol      string        `mapstructure:"symbol"`
	SessionID   string        `mapstructure:"session_id"`
	SessionSign string        `mapstructure:"session_sign"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxCandles  int           `mapstructure:"max_candles"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"` // silence before redial
}

// WarmConfig schedules background signal refreshes.
type WarmConfig struct {
	Schedule    string   `mapstructure:"schedule"`
	Instruments []string `mapstructure:"instruments"`
}

// IndicatorConfig exposes the indicator and classifier thresholds.
type IndicatorConfig struct {
	BuyRSIMax          float64 `mapstructure:"buy_rsi_max"`
	SellRSIMin         float64 `mapstructure:"sell_rsi_min"`
	NeutralRSI         float64 `mapstructure:"neutral_rsi"`
	BollingerK         float64 `mapstructure:"bollinger_k"`
	ZoneSensitivity    float64 `mapstructure:"zone_sensitivity"`
	VolumeSpikeFactor  float64 `mapstructure:"volume_spike_factor"`
	VolumeSpikeDefault bool    `mapstructure:"volume_spike_default"`
}

// Load reads configuration. configPaths are searched for config.yaml;
// a missing file is not an error.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{"./configs", "."}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Warm.Instruments = splitList(cfg.Warm.Instruments)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Signal.TTL <= 0 {
		return fmt.Errorf("config: signal.ttl must be positive, got %v", c.Signal.TTL)
	}
	if c.Signal.StorageTTL < c.Signal.TTL {
		return fmt.Errorf("config: signal.storage_ttl (%v) must be >= signal.ttl (%v)", c.Signal.StorageTTL, c.Signal.TTL)
	}
	if c.Signal.MinCandles <= 0 {
		return fmt.Errorf("config: signal.min_candles must be positive")
	}
	if c.Source.FetchTimeout <= 0 {
		return fmt.Errorf("config: source.fetch_timeout must be positive")
	}
	if c.Feed.Enabled {
		if c.Feed.URL == "" || c.Feed.Symbol == "" {
			return fmt.Errorf("config: feed.url and feed.symbol are required when the feed is enabled")
		}
		if c.Feed.Interval <= 0 || c.Feed.MaxCandles <= 0 {
			return fmt.Errorf("config: feed.interval and feed.max_candles must be positive")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 2*time.Second)

	v.SetDefault("sqlite_path", "")

	v.SetDefault("signal.ttl", 60*time.Second)
	v.SetDefault("signal.storage_ttl", 120*time.Second)
	v.SetDefault("signal.min_candles", 30)

	v.SetDefault("source.fetch_timeout", 10*time.Second)
	v.SetDefault("source.output_size", 120)
	v.SetDefault("source.catalog", "")
	v.SetDefault("source.twelvedata_key", "")
	v.SetDefault("source.twelvedata_url", "https://api.twelvedata.com")
	v.SetDefault("source.yahoo_url", "https://query1.finance.yahoo.com")
	v.SetDefault("source.metals_key", "")
	v.SetDefault("source.metals_url", "https://metals-api.com/api")
	v.SetDefault("source.breaker_failures", 5)
	v.SetDefault("source.breaker_reset", 30*time.Second)

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.url", "wss://data.tradingview.com/socket.io/websocket")
	v.SetDefault("feed.symbol", "XAUUSD")
	v.SetDefault("feed.session_id", "")
	v.SetDefault("feed.session_sign", "")
	v.SetDefault("feed.interval", 5*time.Minute)
	v.SetDefault("feed.max_candles", 30)
	v.SetDefault("feed.read_timeout", 60*time.Second)

	v.SetDefault("warm.schedule", "")
	v.SetDefault("warm.instruments", []string{})

	v.SetDefault("indicator.buy_rsi_max", 40.0)
	v.SetDefault("indicator.sell_rsi_min", 60.0)
	v.SetDefault("indicator.neutral_rsi", 50.0)
	v.SetDefault("indicator.bollinger_k", 2.0)
	v.SetDefault("indicator.zone_sensitivity", 0.003)
	v.SetDefault("indicator.volume_spike_factor", 1.3)
	v.SetDefault("indicator.volume_spike_default", false)
}

// splitList normalises list values that may arrive as one comma-separated
// env string.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
