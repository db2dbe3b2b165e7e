package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("unexpected addrs %q %q", cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.Signal.TTL != 60*time.Second || cfg.Signal.StorageTTL != 120*time.Second || cfg.Signal.MinCandles != 30 {
		t.Errorf("unexpected signal config %+v", cfg.Signal)
	}
	if cfg.Feed.Enabled || cfg.Feed.Interval != 5*time.Minute || cfg.Feed.MaxCandles != 30 {
		t.Errorf("unexpected feed config %+v", cfg.Feed)
	}
	if cfg.Indicator.BuyRSIMax != 40 || cfg.Indicator.SellRSIMin != 60 || cfg.Indicator.VolumeSpikeFactor != 1.3 {
		t.Errorf("unexpected indicator config %+v", cfg.Indicator)
	}
	if cfg.Redis.Addr != "" || len(cfg.Warm.Instruments) != 0 {
		t.Errorf("expected in-memory defaults, got redis=%q warm=%v", cfg.Redis.Addr, cfg.Warm.Instruments)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SIGNAL_TTL", "30s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WARM_INSTRUMENTS", "btc, eth,,xauusd")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Signal.TTL != 30*time.Second {
		t.Errorf("expected ttl 30s, got %v", cfg.Signal.TTL)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr from env, got %q", cfg.Redis.Addr)
	}
	if want := []string{"BTC", "ETH", "XAUUSD"}; !reflect.DeepEqual(cfg.Warm.Instruments, want) {
		t.Errorf("expected %v, got %v", want, cfg.Warm.Instruments)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
http_addr: ":9000"
signal:
  ttl: 45s
  storage_ttl: 90s
feed:
  enabled: true
  symbol: XAUUSD
  interval: 1m
indicator:
  buy_rsi_max: 35
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.Signal.TTL != 45*time.Second || cfg.Signal.StorageTTL != 90*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if !cfg.Feed.Enabled || cfg.Feed.Interval != time.Minute {
		t.Errorf("unexpected feed config %+v", cfg.Feed)
	}
	if cfg.Indicator.BuyRSIMax != 35 || cfg.Indicator.SellRSIMin != 60 {
		t.Errorf("expected file value merged over defaults, got %+v", cfg.Indicator)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("signal: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Signal: SignalConfig{TTL: time.Minute, StorageTTL: 2 * time.Minute, MinCandles: 30},
			Source: SourceConfig{FetchTimeout: 10 * time.Second},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		errSub string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero ttl", func(c *Config) { c.Signal.TTL = 0 }, "signal.ttl"},
		{"storage below ttl", func(c *Config) { c.Signal.StorageTTL = time.Second }, "storage_ttl"},
		{"no min candles", func(c *Config) { c.Signal.MinCandles = 0 }, "min_candles"},
		{"no fetch timeout", func(c *Config) { c.Source.FetchTimeout = 0 }, "fetch_timeout"},
		{"feed without url", func(c *Config) {
			c.Feed = FeedConfig{Enabled: true, Symbol: "XAUUSD", Interval: time.Minute, MaxCandles: 30}
		}, "feed.url"},
		{"feed without interval", func(c *Config) {
			c.Feed = FeedConfig{Enabled: true, URL: "wss://x", Symbol: "XAUUSD", MaxCandles: 30}
		}, "feed.interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.errSub == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errSub) {
				t.Errorf("expected error containing %q, got %v", tc.errSub, err)
			}
		})
	}
}
