// cmd/backtest replays archived candles from SQLite through the indicator
// engine and signal rules, printing every signal change and a summary.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --symbol=XAUUSD --interval=5m --limit=2000
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trading-signal/config"
	"trading-signal/internal/indicator"
	"trading-signal/internal/logger"
	"trading-signal/internal/marketdata/replay"
	"trading-signal/internal/model"
	rules "trading-signal/internal/signal"
	sqlitestore "trading-signal/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Init("backtest", logger.ParseLevel(cfg.Log.Level), logger.FileConfig{})

	// Flags
	dbPath := flag.String("db", cfg.SQLitePath, "Path to the candle archive")
	symbol := flag.String("symbol", cfg.Feed.Symbol, "Archived symbol to replay")
	interval := flag.Duration("interval", cfg.Feed.Interval, "Candle interval")
	limit := flag.Int("limit", 2000, "Most recent candles to replay")
	window := flag.Int("window", 120, "Candles per evaluated series")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	flag.Parse()

	if *dbPath == "" {
		slog.Error("no archive: pass --db or set SQLITE_PATH")
		os.Exit(1)
	}

	archive, err := sqlitestore.Open(*dbPath)
	if err != nil {
		slog.Error("sqlite open failed", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer archive.Close()

	params := indicator.DefaultParams()
	params.MinLen = cfg.Signal.MinCandles
	params.BollK = cfg.Indicator.BollingerK
	params.ZoneSensitivity = cfg.Indicator.ZoneSensitivity
	params.VolumeSpikeFactor = cfg.Indicator.VolumeSpikeFactor
	params.VolumeSpikeDefault = cfg.Indicator.VolumeSpikeDefault
	classifier := rules.NewClassifier(rules.Thresholds{
		BuyRSIMax:  cfg.Indicator.BuyRSIMax,
		SellRSIMin: cfg.Indicator.SellRSIMin,
		NeutralRSI: cfg.Indicator.NeutralRSI,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candleCh := make(chan model.Candle, 1000)
	go func() {
		defer close(candleCh)
		if _, err := replay.New(archive).Run(ctx, *symbol, *interval, *limit, *speed, candleCh); err != nil {
			slog.Error("replay error", "error", err)
		}
	}()

	ev := replay.NewEvaluator(*symbol, *window, params, classifier)
	counts := make(map[model.SignalType]int)
	var (
		processed, evaluated, changes int
		prev                          model.SignalType
	)
	for c := range candleCh {
		processed++
		p, ok := ev.Step(c)
		if !ok {
			continue
		}
		evaluated++
		counts[p.Signal]++
		if p.Signal != prev {
			changes++
			fmt.Printf("  [%s] %-11s rule=%-13s price=%.2f rsi=%.1f trend=%s zone=%s\n",
				p.TS.Format(time.DateTime), p.Signal, p.Rule, p.Snapshot.Price, p.Snapshot.RSI, p.Snapshot.Trend, p.Snapshot.Zone)
			prev = p.Signal
		}
	}

	// Print summary
	fmt.Println()
	fmt.Printf("Backtest %s %s\n", *symbol, model.IntervalLabel(*interval))
	fmt.Printf("  Candles replayed: %d\n", processed)
	fmt.Printf("  Signals evaluated: %d\n", evaluated)
	fmt.Printf("  Signal changes: %d\n", changes)
	types := make([]string, 0, len(counts))
	for s := range counts {
		types = append(types, string(s))
	}
	sort.Strings(types)
	for _, s := range types {
		fmt.Printf("  %-11s %d\n", s, counts[model.SignalType(s)])
	}
}
