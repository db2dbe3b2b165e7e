package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trading-signal/config"
	"trading-signal/internal/breaker"
	"trading-signal/internal/logger"
	"trading-signal/internal/marketdata/feed"
	"trading-signal/internal/metrics"
	"trading-signal/internal/model"
	"trading-signal/internal/pipeline"
	redisstore "trading-signal/internal/store/redis"
	sqlitestore "trading-signal/internal/store/sqlite"
	"trading-signal/internal/store/window"
)

// tickfeed runs only the live ingest path: quote feed to candles in the
// Redis window (and the sqlite archive), with /metrics and /healthz on
// metrics_addr. The API service reads the window this process writes.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Init("tickfeed", logger.ParseLevel(cfg.Log.Level), logger.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if cfg.Redis.Addr == "" {
		slog.Error("redis.addr is required: the window must be shared with the API service")
		os.Exit(1)
	}
	slog.Info("starting", "symbol", cfg.Feed.Symbol, "interval", cfg.Feed.Interval.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Setup metrics & health ----
	m := metrics.NewMetrics(nil)

	rdb, err := redisstore.Connect(redisstore.Config{
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

	cb := breaker.New("redis_window", cfg.Source.BreakerFailures, cfg.Source.BreakerResetAfter)
	cb.OnStateChange = m.ObserveBreaker
	buffered := window.NewBuffered(redisstore.NewWindowStore(rdb, cfg.Feed.MaxCandles, cfg.Redis.Timeout, cb), 0)
	buffered.OnBuffer = m.WindowBuffered.Inc
	buffered.OnDrop = m.WindowDropped.Inc

	var (
		archive *sqlitestore.Archive
		arch    pipeline.Archive
		sqlDB   *sql.DB
	)
	if cfg.SQLitePath != "" {
		archive, err = sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		archive.OnCommit = func(_ int, took time.Duration) { m.SQLiteCommitDur.Observe(took.Seconds()) }
		arch = archive
		sqlDB = archive.DB()
	}

	health := metrics.NewHealthStatus(true, true, archive != nil)
	health.SetInstruments([]string{cfg.Feed.Symbol})
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup feed ----
	client, err := feed.New(feed.Config{
		URL:         cfg.Feed.URL,
		Symbol:      cfg.Feed.Symbol,
		SessionID:   cfg.Feed.SessionID,
		SessionSign: cfg.Feed.SessionSign,
		ReadTimeout: cfg.Feed.ReadTimeout,
	})
	if err != nil {
		slog.Error("feed setup failed", "error", err)
		os.Exit(1)
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

	ingest := pipeline.NewIngest(pipeline.Config{
		Symbol:     cfg.Feed.Symbol,
		Interval:   cfg.Feed.Interval,
		MaxCandles: cfg.Feed.MaxCandles,
	}, client, buffered, arch)
	ingest.Metrics = m

	// Run blocks until the signal context is cancelled and every stage has
	// drained.
	if err := ingest.Run(ctx); err != nil {
		slog.Error("ingest pipeline stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buffered.Flush(shutdownCtx)
	if n := buffered.PendingCount(); n > 0 {
		slog.Warn("window candles lost on shutdown", "pending", n)
	}
	metricsSrv.Stop(shutdownCtx)
	slog.Info("stopped")
}
