// Package feed streams live last-price ticks from a TradingView-style quote
// websocket and pushes them as model.Tick values into the aggregator.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-signal/internal/model"
)

// Config holds configuration for the quote feed.
type Config struct {
	// URL of the quote websocket, e.g.
	// "wss://data.tradingview.com/socket.io/websocket".
	URL string
	// Symbol to subscribe, e.g. "XAUUSD".
	Symbol string

	// Optional authenticated session appended as ?session=&sign=.
	SessionID   string
	SessionSign string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
	// ReadTimeout is how long the connection may stay silent, heartbeats
	// included, before it is dropped and redialled. Defaults to 60s.
	ReadTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	c.Symbol = strings.ToUpper(c.Symbol)
}

// Client connects to the quote websocket and pushes ticks into tickCh.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	// Now stamps received ticks. Defaults to time.Now.
	Now func() time.Time

	// Optional metrics hooks
	OnReconnect   func()
	OnTick        func(t model.Tick)
	OnDroppedTick func(t model.Tick)
}

// New creates a Client. Returns an error if the URL is unparseable or the
// symbol is empty.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("feed: symbol is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	if cfg.SessionID != "" {
		q := u.Query()
		q.Set("session", cfg.SessionID)
		q.Set("sign", cfg.SessionSign)
		u.RawQuery = q.Encode()
		cfg.URL = u.String()
	}
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer, Now: time.Now}, nil
}

// Run connects and streams ticks into tickCh. Blocks until ctx is
// cancelled. Reconnects with exponential backoff on disconnect.
func (c *Client) Run(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		slog.Warn("feed disconnected, reconnecting", "symbol", c.cfg.Symbol, "error", err, "delay", delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx
// cancel. connected reports whether the handshake succeeded.
func (c *Client) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	header := http.Header{}
	header.Set("Origin", "https://www.tradingview.com")
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(payload string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte(EncodeFrame(payload)))
	}

	for _, msg := range subscribeMessages(c.cfg.Symbol) {
		if err := write(msg); err != nil {
			return true, fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	slog.Info("feed connected", "symbol", c.cfg.Symbol)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			writeMu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		// Every received frame extends the deadline; a silent upstream
		// fails the read and goes through the reconnect path.
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		frames, err := DecodeFrames(string(raw))
		if err != nil {
			slog.Warn("feed frame error", "error", err)
		}
		for _, payload := range frames {
			if IsHeartbeat(payload) {
				if err := write(payload); err != nil {
					return true, fmt.Errorf("feed: heartbeat echo: %w", err)
				}
				continue
			}
			q, ok := ParseQuote(payload)
			if !ok || q.Symbol != c.cfg.Symbol {
				continue
			}
			c.push(model.Tick{Symbol: q.Symbol, Price: q.Price, TS: c.Now().UTC()}, tickCh)
		}
	}
}

// push never blocks: a full tickCh drops the tick.
func (c *Client) push(t model.Tick, tickCh chan<- model.Tick) {
	select {
	case tickCh <- t:
		if c.OnTick != nil {
			c.OnTick(t)
		}
	default:
		slog.Warn("tick channel full, dropping tick", "symbol", t.Symbol)
		if c.OnDroppedTick != nil {
			c.OnDroppedTick(t)
		}
	}
}

type message struct {
	M string `json:"m"`
	P []any  `json:"p"`
}

// subscribeMessages builds the session set-up sequence for one symbol.
func subscribeMessages(symbol string) []string {
	qs := "qs_" + sessionSuffix()
	msgs := []message{
		{M: "set_auth_token", P: []any{"unauthorized_user_token"}},
		{M: "quote_create_session", P: []any{qs}},
		{M: "quote_set_fields", P: []any{qs, "lp", "ch", "chp"}},
		{M: "quote_add_symbols", P: []any{qs, symbol}},
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		out = append(out, string(b))
	}
	return out
}

func sessionSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
