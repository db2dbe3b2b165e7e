package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"trading-signal/config"
	"trading-signal/internal/api"
	"trading-signal/internal/breaker"
	"trading-signal/internal/cache"
	"trading-signal/internal/indicator"
	"trading-signal/internal/logger"
	"trading-signal/internal/marketdata/feed"
	"trading-signal/internal/metrics"
	"trading-signal/internal/model"
	"trading-signal/internal/pipeline"
	rules "trading-signal/internal/signal"
	"trading-signal/internal/signalsvc"
	"trading-signal/internal/source"
	"trading-signal/internal/store/memstore"
	redisstore "trading-signal/internal/store/redis"
	sqlitestore "trading-signal/internal/store/sqlite"
	"trading-signal/internal/store/window"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	logger.Init("signald", level, logger.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	slog.Info("starting", "http_addr", cfg.HTTPAddr, "feed", cfg.Feed.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Setup metrics ----
	m := metrics.NewMetrics(nil)
	newBreaker := func(name string) *breaker.Breaker {
		cb := breaker.New(name, cfg.Source.BreakerFailures, cfg.Source.BreakerResetAfter)
		cb.OnStateChange = m.ObserveBreaker
		return cb
	}

	// ---- Setup stores ----
	var (
		rdb         *goredis.Client
		cacheStore  model.CacheStore
		windowStore model.CandleWindow
		buffered    *window.Buffered
	)
	if cfg.Redis.Addr != "" {
		rdb, err = redisstore.Connect(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			slog.Error("redis connect failed", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		cacheStore = redisstore.NewCacheStore(rdb, cfg.Redis.Timeout, newBreaker("redis_cache"))
		buffered = window.NewBuffered(
			redisstore.NewWindowStore(rdb, cfg.Feed.MaxCandles, cfg.Redis.Timeout, newBreaker("redis_window")), 0)
		buffered.OnBuffer = m.WindowBuffered.Inc
		buffered.OnDrop = m.WindowDropped.Inc
		buffered.OnFlush = func(n int) { slog.Info("window buffer flushed", "candles", n) }
		windowStore = buffered
	} else {
		slog.Warn("redis.addr not set, using in-memory stores")
		cacheStore = memstore.NewCache(nil)
		windowStore = memstore.NewWindow(cfg.Feed.MaxCandles)
	}

	var archive *sqlitestore.Archive
	if cfg.SQLitePath != "" {
		archive, err = sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		archive.OnCommit = func(_ int, took time.Duration) { m.SQLiteCommitDur.Observe(took.Seconds()) }
	}

	// ---- Setup candle sources ----
	catalog := source.DefaultCatalog()
	if cfg.Source.Catalog != "" {
		catalog, err = source.LoadCatalog(cfg.Source.Catalog)
		if err != nil {
			slog.Error("instrument catalog load failed", "path", cfg.Source.Catalog, "error", err)
			os.Exit(1)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Source.FetchTimeout}
	providers := source.Providers{
		Yahoo: source.NewYahoo(source.HTTPConfig{
			BaseURL:    cfg.Source.YahooURL,
			Client:     httpClient,
			Breaker:    newBreaker("yahoo"),
			OutputSize: cfg.Source.OutputSize,
		}, cfg.Source.FetchTimeout),
		Window:         windowStore,
		WindowInterval: cfg.Feed.Interval,
	}
	if cfg.Source.TwelveDataKey != "" {
		providers.TwelveData = source.NewTwelveData(source.HTTPConfig{
			BaseURL:    cfg.Source.TwelveDataURL,
			APIKey:     cfg.Source.TwelveDataKey,
			Client:     httpClient,
			Breaker:    newBreaker("twelvedata"),
			OutputSize: cfg.Source.OutputSize,
		}, cfg.Source.FetchTimeout)
	} else {
		slog.Warn("source.twelvedata_key not set, twelvedata instruments will be unavailable")
	}
	if cfg.Source.MetalsKey != "" {
		providers.Metals = source.NewMetalsQuote(source.HTTPConfig{
			BaseURL: cfg.Source.MetalsURL,
			APIKey:  cfg.Source.MetalsKey,
			Client:  httpClient,
			Breaker: newBreaker("metals"),
		}, cfg.Source.FetchTimeout)
	}

	registry, err := source.Build(catalog, providers, cfg.Source.FetchTimeout)
	if err != nil {
		slog.Error("source registry build failed", "error", err)
		os.Exit(1)
	}
	registry.OnFetch = m.ObserveFetch
	instruments := registry.Instruments()
	slog.Info("instruments registered", "instruments", instruments)

	// ---- Setup signal service ----
	signalCache := cache.New(cacheStore, cache.Options{
		TTL:        cfg.Signal.TTL,
		StorageTTL: cfg.Signal.StorageTTL,
		Hooks: cache.Hooks{
			OnHit:        func(inst string) { m.CacheHits.WithLabelValues(inst).Inc() },
			OnMiss:       func(inst string) { m.CacheMisses.WithLabelValues(inst).Inc() },
			OnCorrupt:    func(inst string) { m.CacheCorrupt.WithLabelValues(inst).Inc() },
			OnStoreError: func(_, op string) { m.CacheStoreErrors.WithLabelValues(op).Inc() },
		},
	})

	classifier := rules.NewClassifier(rules.Thresholds{
		BuyRSIMax:  cfg.Indicator.BuyRSIMax,
		SellRSIMin: cfg.Indicator.SellRSIMin,
		NeutralRSI: cfg.Indicator.NeutralRSI,
	})

	params := indicator.DefaultParams()
	params.MinLen = cfg.Signal.MinCandles
	params.BollK = cfg.Indicator.BollingerK
	params.ZoneSensitivity = cfg.Indicator.ZoneSensitivity
	params.VolumeSpikeFactor = cfg.Indicator.VolumeSpikeFactor
	params.VolumeSpikeDefault = cfg.Indicator.VolumeSpikeDefault

	svc := signalsvc.New(registry, signalCache, classifier, signalsvc.Options{
		Params: params,
		Hooks: signalsvc.Hooks{
			OnComputed:    m.ObserveComputed,
			OnUnavailable: func(inst string) { m.DataUnavailable.WithLabelValues(inst).Inc() },
		},
	})

	// ---- Setup health ----
	health := metrics.NewHealthStatus(cfg.Feed.Enabled, rdb != nil, archive != nil)
	health.SetInstruments(instruments)
	var sqlDB *sql.DB
	if archive != nil {
		sqlDB = archive.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Start live feed ----
	ingestDone := make(chan struct{})
	if cfg.Feed.Enabled {
		go func() {
			defer close(ingestDone)
			runIngest(ctx, cfg, windowStore, archive, m, health)
		}()
	} else {
		close(ingestDone)
	}

	// ---- Start cache warmer ----
	var warmer *signalsvc.Warmer
	if cfg.Warm.Schedule != "" {
		warmList := cfg.Warm.Instruments
		if len(warmList) == 0 {
			warmList = instruments
		}
		warmer, err = signalsvc.NewWarmer(ctx, svc, cfg.Warm.Schedule, warmList, cfg.Source.FetchTimeout)
		if err != nil {
			slog.Error("warmer setup failed", "schedule", cfg.Warm.Schedule, "error", err)
			os.Exit(1)
		}
		warmer.Start()
	}

	// ---- Start API ----
	router := api.NewRouter(svc, api.Options{
		Health:      health,
		Instruments: registry.Instruments,
	})
	server := api.NewServer(cfg.HTTPAddr, router)
	server.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if warmer != nil {
		warmer.Stop()
	}
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("api server shutdown", "error", err)
	}
	select {
	case <-ingestDone:
	case <-shutdownCtx.Done():
		slog.Warn("ingest pipeline did not stop in time")
	}
	if buffered != nil {
		buffered.Flush(shutdownCtx)
		if n := buffered.PendingCount(); n > 0 {
			slog.Warn("window candles lost on shutdown", "pending", n)
		}
	}
	slog.Info("stopped")
}

// runIngest streams the configured quote feed into the rolling window and
// archive until ctx is cancelled.
func runIngest(ctx context.Context, cfg *config.Config, win model.CandleWindow, archive *sqlitestore.Archive, m *metrics.Metrics, health *metrics.HealthStatus) {
	client, err := feed.New(feed.Config{
		URL:         cfg.Feed.URL,
		Symbol:      cfg.Feed.Symbol,
		SessionID:   cfg.Feed.SessionID,
		SessionSign: cfg.Feed.SessionSign,
		ReadTimeout: cfg.Feed.ReadTimeout,
	})
	if err != nil {
		slog.Error("feed setup failed", "error", err)
		return
	}
	client.OnTick = func(t model.Tick) {
		m.TicksTotal.Inc()
		health.SetFeedConnected(true)
		health.SetLastTickTime(t.TS)
	}
	client.OnDroppedTick = func(model.Tick) { m.DroppedTicks.Inc() }
	client.OnReconnect = func() {
		m.FeedReconnects.Inc()
		health.SetFeedConnected(false)
	}

	// A nil *Archive must not become a non-nil interface.
	var arch pipeline.Archive
	if archive != nil {
		arch = archive
	}

	ingest := pipeline.NewIngest(pipeline.Config{
		Symbol:     cfg.Feed.Symbol,
		Interval:   cfg.Feed.Interval,
		MaxCandles: cfg.Feed.MaxCandles,
	}, client, win, arch)
	ingest.Metrics = m
	if err := ingest.Run(ctx); err != nil {
		slog.Error("ingest pipeline stopped with error", "error", err)
	}
}
