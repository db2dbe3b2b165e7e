// Package sqlite archives every aggregated candle in a local SQLite
// database (mattn/go-sqlite3). The archive outlives the capped Redis window
// and is used to reseed it after a restart.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"trading-signal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Archive is a single-goroutine SQLite writer with transaction batching,
// plus the reads used for reseeding.
type Archive struct {
	db *sql.DB

	batchSize  int
	flushDelay time.Duration

	// OnCommit is called after each committed batch (optional, for metrics).
	OnCommit func(n int, took time.Duration)
}

// Open opens the database at path with WAL mode and creates the schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite archive opened", "path", path)
	return &Archive{db: db, batchSize: defaultBatchSize, flushDelay: defaultFlushDelay}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol       TEXT    NOT NULL,
			interval_sec INTEGER NOT NULL,
			ts           INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       REAL,
			PRIMARY KEY (symbol, interval_sec, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (a *Archive) DB() *sql.DB { return a.db }

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (a *Archive) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, a.batchSize)
	timer := time.NewTimer(a.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := a.Insert(batch); err != nil {
			slog.Error("sqlite batch insert failed", "count", len(batch), "error", err)
		} else {
			took := time.Since(start)
			slog.Debug("sqlite batch committed", "count", len(batch), "took", took)
			if a.OnCommit != nil {
				a.OnCommit(len(batch), took)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= a.batchSize {
				flush()
				timer.Reset(a.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(a.flushDelay)
		}
	}
}

// Insert writes candles in a single transaction. Re-inserting a candle
// with the same symbol, interval and timestamp replaces it.
func (a *Archive) Insert(candles []model.Candle) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, interval_sec, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		var vol sql.NullFloat64
		if c.Volume != nil {
			vol = sql.NullFloat64{Float64: *c.Volume, Valid: true}
		}
		_, err := stmt.Exec(c.Symbol, int64(c.Interval/time.Second), c.TS.Unix(), c.Open, c.High, c.Low, c.Close, vol)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReadRecent returns up to n of the most recent candles for symbol and
// interval, oldest first.
func (a *Archive) ReadRecent(ctx context.Context, symbol string, interval time.Duration, n int) ([]model.Candle, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND interval_sec = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, int64(interval/time.Second), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: symbol, Interval: interval}
		var ts int64
		var vol sql.NullFloat64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(ts, 0).UTC()
		if vol.Valid {
			c.Volume = model.Float(vol.Float64)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastTimestamp returns the last archived candle time for symbol and
// interval, or the zero time if none exist.
func (a *Archive) LastTimestamp(ctx context.Context, symbol string, interval time.Duration) (time.Time, error) {
	var ts sql.NullInt64
	err := a.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND interval_sec = ?`,
		symbol, int64(interval/time.Second),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
