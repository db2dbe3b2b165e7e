// Package api serves the signal HTTP interface on gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-signal/internal/logger"
	"trading-signal/internal/model"
	"trading-signal/internal/signalsvc"
)

// RequestIDHeader carries the request trace id in and out.
const RequestIDHeader = "X-Request-ID"

// SignalService is the part of signalsvc.Service the router needs.
type SignalService interface {
	GetSignal(ctx context.Context, instrument string) (signalsvc.Result, error)
	Reset(ctx context.Context, instrument string) error
}

// Options configures optional routes.
type Options struct {
	Health      http.Handler // served on /healthz when set
	Metrics     http.Handler // served on /metrics; defaults to promhttp.Handler
	Instruments func() []string
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(svc SignalService, opts Options) *gin.Engine {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())

	h := &handlers{svc: svc, instruments: opts.Instruments}

	r.GET("/", h.home)
	r.GET("/signal/:instrument", h.getSignal)
	r.POST("/signal/:instrument/reset", h.reset)
	// Path used by earlier clients.
	r.GET("/get_signal/:instrument", h.getSignal)

	if opts.Health != nil {
		r.GET("/healthz", gin.WrapH(opts.Health))
	}
	r.GET("/metrics", gin.WrapH(opts.Metrics))
	return r
}

type handlers struct {
	svc         SignalService
	instruments func() []string
}

func (h *handlers) home(c *gin.Context) {
	body := gin.H{"status": "ok", "service": "signal API is running"}
	if h.instruments != nil {
		body["instruments"] = h.instruments()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) getSignal(c *gin.Context) {
	inst := strings.ToUpper(c.Param("instrument"))
	res, err := h.svc.GetSignal(c.Request.Context(), inst)
	if err != nil {
		writeError(c, inst, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) reset(c *gin.Context) {
	inst := strings.ToUpper(c.Param("instrument"))
	if err := h.svc.Reset(c.Request.Context(), inst); err != nil {
		writeError(c, inst, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instrument": inst, "reset": true})
}

// StatusFor maps a pipeline error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInstrument):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, inst string, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("signal request failed", append(logger.LogWithTrace(c.Request.Context()), "instrument", inst, "error", err)...)
		msg = "internal error"
	}
	c.JSON(code, gin.H{"instrument": inst, "error": msg})
}

// requestID propagates or assigns X-Request-ID and stores it as the trace id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = logger.NewTraceID()
		}
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request", append(logger.LogWithTrace(c.Request.Context()),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		)...)
	}
}

// Server wraps the router in an http.Server with graceful shutdown.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates an API server on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("api server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
