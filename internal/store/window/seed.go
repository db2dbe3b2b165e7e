package window

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-signal/internal/model"
)

// RecentReader reads the newest archived candles, oldest first.
type RecentReader interface {
	ReadRecent(ctx context.Context, symbol string, interval time.Duration, n int) ([]model.Candle, error)
}

// Seed fills an empty window for symbol+interval from the archive. A window
// that already holds candles is left untouched. It returns the number of
// candles appended.
func Seed(ctx context.Context, store model.CandleWindow, archive RecentReader, symbol string, interval time.Duration, n int) (int, error) {
	key := model.WindowKey(symbol, interval)
	existing, err := store.Load(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("seed %s: load: %w", key, err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	candles, err := archive.ReadRecent(ctx, symbol, interval, n)
	if err != nil {
		return 0, fmt.Errorf("seed %s: read archive: %w", key, err)
	}
	for i, c := range candles {
		if err := store.Append(ctx, key, c); err != nil {
			return i, fmt.Errorf("seed %s: append: %w", key, err)
		}
	}
	if len(candles) > 0 {
		slog.Info("window seeded from archive", "key", key, "count", len(candles))
	}
	return len(candles), nil
}
