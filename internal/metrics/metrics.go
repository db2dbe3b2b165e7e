package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-signal/internal/breaker"
	"trading-signal/internal/model"
)

// Metrics holds all Prometheus metrics for the signal service and the
// tick ingest pipeline.
type Metrics struct {
	// Live feed and aggregation
	TicksTotal      prometheus.Counter
	DroppedTicks    prometheus.Counter
	FeedReconnects  prometheus.Counter
	CandlesTotal    prometheus.Counter
	DroppedCandles  prometheus.Counter
	CandleLag       prometheus.Gauge
	SQLiteCommitDur prometheus.Histogram

	// Rolling window writes
	WindowWrites      prometheus.Counter
	WindowWriteErrors prometheus.Counter
	WindowBuffered    prometheus.Counter
	WindowDropped     prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Signal cache
	CacheHits        *prometheus.CounterVec // labels: instrument
	CacheMisses      *prometheus.CounterVec // labels: instrument
	CacheCorrupt     *prometheus.CounterVec // labels: instrument
	CacheStoreErrors *prometheus.CounterVec // labels: op

	// Signal computation
	SignalsComputed *prometheus.CounterVec // labels: instrument, signal
	ComputeDur      prometheus.Histogram
	DataUnavailable *prometheus.CounterVec // labels: instrument
	FetchDur        *prometheus.HistogramVec // labels: instrument
	FetchErrors     *prometheus.CounterVec   // labels: instrument

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name
}

// NewMetrics registers and returns all metrics on reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_feed_ticks_total",
			Help: "Total ticks received from the quote feed",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_feed_dropped_ticks_total",
			Help: "Ticks dropped (foreign symbol, invalid price or channel full)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_feed_reconnects_total",
			Help: "Total quote feed reconnection attempts",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_candles_total",
			Help: "Total aggregated candles emitted",
		}),
		DroppedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_dropped_candles_total",
			Help: "Candles dropped because the candle channel was full",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_candle_lag_seconds",
			Help: "Lag between candle timestamp and window write",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_sqlite_commit_duration_seconds",
			Help:    "SQLite archive batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		WindowWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_window_writes_total",
			Help: "Candles appended to the rolling window",
		}),
		WindowWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_window_write_errors_total",
			Help: "Rolling window append failures",
		}),
		WindowBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_window_buffered_total",
			Help: "Candles buffered locally while the window store was unavailable",
		}),
		WindowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_window_buffer_dropped_total",
			Help: "Buffered candles discarded because the local buffer was full",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_cache_hits_total",
			Help: "Requests served from a fresh cache entry",
		}, []string{"instrument"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_cache_misses_total",
			Help: "Requests that required a computation",
		}, []string{"instrument"}),
		CacheCorrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_cache_corrupt_total",
			Help: "Stored cache entries that failed to decode and were deleted",
		}, []string{"instrument"}),
		CacheStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_cache_store_errors_total",
			Help: "Cache store failures by operation",
		}, []string{"op"}),

		SignalsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_computed_total",
			Help: "Signals computed by instrument and type",
		}, []string{"instrument", "signal"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_compute_duration_seconds",
			Help:    "Fetch + indicator + classify latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		DataUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_data_unavailable_total",
			Help: "Requests that failed for lack of usable market data",
		}, []string{"instrument"}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signal_source_fetch_duration_seconds",
			Help:    "Candle source fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"instrument"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_source_fetch_errors_total",
			Help: "Candle source fetch failures",
		}, []string{"instrument"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.FeedReconnects,
		m.CandlesTotal,
		m.DroppedCandles,
		m.CandleLag,
		m.SQLiteCommitDur,
		m.WindowWrites,
		m.WindowWriteErrors,
		m.WindowBuffered,
		m.WindowDropped,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.CacheHits,
		m.CacheMisses,
		m.CacheCorrupt,
		m.CacheStoreErrors,
		m.SignalsComputed,
		m.ComputeDur,
		m.DataUnavailable,
		m.FetchDur,
		m.FetchErrors,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

// ObserveBreaker records a breaker transition. Matches
// breaker.Breaker.OnStateChange.
func (m *Metrics) ObserveBreaker(name string, from, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen && from != breaker.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
	slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
}

// ObserveFetch records one source fetch. Matches source.Registry.OnFetch.
func (m *Metrics) ObserveFetch(instrument string, took time.Duration, err error) {
	m.FetchDur.WithLabelValues(instrument).Observe(took.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(instrument).Inc()
	}
}

// ObserveComputed records one signal computation.
func (m *Metrics) ObserveComputed(instrument string, sig model.SignalType, _ string, took time.Duration) {
	m.SignalsComputed.WithLabelValues(instrument, string(sig)).Inc()
	m.ComputeDur.Observe(took.Seconds())
}

// ObserveWindowWrite records a window append and the lag behind the
// candle's timestamp.
func (m *Metrics) ObserveWindowWrite(c model.Candle) {
	m.WindowWrites.Inc()
	m.CandleLag.Set(time.Since(c.TS).Seconds())
}

// ObserveChannel records a channel's fill percentage.
func (m *Metrics) ObserveChannel(name string, length, capacity int) {
	if capacity <= 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedEnabled    bool      `json:"feed_enabled"`
	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Instruments    []string  `json:"instruments"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status for the enabled dependencies.
// Disabled dependencies never degrade the status.
func NewHealthStatus(feed, redis, sqlite bool) *HealthStatus {
	return &HealthStatus{
		FeedEnabled:   feed,
		RedisEnabled:  redis,
		SQLiteEnabled: sqlite,
		StartedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.FeedConnected = true
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(inst []string) {
	h.mu.Lock()
	h.Instruments = inst
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the archive database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. nil clients are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// Report is the JSON body served on /healthz.
type Report struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	FeedConnected   bool     `json:"feed_connected"`
	LastTickTime    string   `json:"last_tick_time,omitempty"`
	TickAge         string   `json:"tick_age,omitempty"`
	RedisConnected  bool     `json:"redis_connected"`
	RedisLatencyMs  float64  `json:"redis_latency_ms"`
	SQLiteOK        bool     `json:"sqlite_ok"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
	Instruments     []string `json:"instruments"`
	LastCheckAt     string   `json:"last_check_at,omitempty"`
}

// Report evaluates overall health. The HTTP code is 503 when any enabled
// dependency is down.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	feedDown := h.FeedEnabled && !h.FeedConnected
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if feedDown || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && (sqliteDown || !h.SQLiteEnabled) {
		overallStatus = "unhealthy"
	}

	r := Report{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Instruments:     h.Instruments,
	}
	if !h.LastTickTime.IsZero() {
		r.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		r.TickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, httpCode
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz. Used by the
// stand-alone ingest binary, which has no API router.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
