package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-signal/internal/model"
)

func TestEncodeDecodeFrames(t *testing.T) {
	msg := EncodeFrame(`{"m":"qsd"}`) + EncodeFrame("~h~7")
	if !strings.HasPrefix(msg, "~m~11~m~") {
		t.Fatalf("unexpected encoding %q", msg)
	}
	frames, err := DecodeFrames(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || frames[0] != `{"m":"qsd"}` || frames[1] != "~h~7" {
		t.Errorf("unexpected frames %q", frames)
	}
	if !IsHeartbeat(frames[1]) || IsHeartbeat(frames[0]) {
		t.Error("heartbeat detection wrong")
	}
}

func TestDecodeFrames_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		good int
	}{
		{"no prefix", `{"m":"qsd"}`, 0},
		{"bad length", "~m~x~m~abc", 0},
		{"short payload", "~m~10~m~abc", 0},
		{"trailing garbage", "~m~3~m~abcxyz", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frames, err := DecodeFrames(tc.msg)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("expected ErrMalformedFrame, got %v", err)
			}
			if len(frames) != tc.good {
				t.Errorf("expected %d good frames, got %d", tc.good, len(frames))
			}
		})
	}
}

func TestParseQuote(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Quote
		ok      bool
	}{
		{"last price", `{"m":"qsd","p":["qs_1",{"n":"OANDA:XAUUSD","s":"ok","v":{"lp":2345.6}}]}`, Quote{"XAUUSD", 2345.6}, true},
		{"no prefix", `{"m":"qsd","p":["qs_1",{"n":"xauusd","v":{"lp":1}}]}`, Quote{"XAUUSD", 1}, true},
		{"bid only", `{"m":"qsd","p":["qs_1",{"n":"XAUUSD","v":{"bid":1}}]}`, Quote{}, false},
		{"other message", `{"m":"du","p":["cs_1",{"s1":{}}]}`, Quote{}, false},
		{"string price", `{"m":"qsd","p":["qs_1",{"n":"XAUUSD","v":{"lp":"1"}}]}`, Quote{}, false},
		{"zero price", `{"m":"qsd","p":["qs_1",{"n":"XAUUSD","v":{"lp":0}}]}`, Quote{}, false},
		{"not json", `~h~1`, Quote{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseQuote(tc.payload)
			if ok != tc.ok || got != tc.want {
				t.Errorf("got %+v,%v want %+v,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestSubscribeMessages(t *testing.T) {
	msgs := subscribeMessages("XAUUSD")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[3], `"quote_add_symbols"`) || !strings.Contains(msgs[3], `"XAUUSD"`) {
		t.Errorf("unexpected add symbols message %s", msgs[3])
	}
}

func TestNew_SessionQuery(t *testing.T) {
	c, err := New(Config{URL: "wss://example.test/ws", Symbol: "xauusd", SessionID: "abc", SessionSign: "sig"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.cfg.URL, "session=abc") || !strings.Contains(c.cfg.URL, "sign=sig") {
		t.Errorf("session not appended: %s", c.cfg.URL)
	}
	if c.cfg.Symbol != "XAUUSD" {
		t.Errorf("symbol not normalised: %s", c.cfg.Symbol)
	}
	if _, err := New(Config{URL: "wss://example.test"}); err == nil {
		t.Error("expected error for empty symbol")
	}
}

// upgrader accepts the client's browser Origin header.
var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// quoteServer subscribes the client, checks the heartbeat echo and then
// sends one foreign and one matching quote.
func quoteServer(t *testing.T, echoed chan<- string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()

		for i := 0; i < 4; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte(EncodeFrame("~h~1")))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		echoed <- string(raw)

		msg := EncodeFrame(`{"m":"qsd","p":["qs_1",{"n":"BTC","v":{"lp":60000}}]}`) +
			EncodeFrame(`{"m":"qsd","p":["qs_1",{"n":"OANDA:XAUUSD","v":{"lp":2345.5}}]}`)
		conn.WriteMessage(websocket.TextMessage, []byte(msg))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClient_StreamsTicks(t *testing.T) {
	echoed := make(chan string, 1)
	srv := quoteServer(t, echoed)
	defer srv.Close()

	c, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbol: "XAUUSD"})
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Unix(1700000000, 0)
	c.Now = func() time.Time { return fixed }

	tickCh := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, tickCh) }()

	select {
	case got := <-echoed:
		if got != "~m~4~m~~h~1" {
			t.Errorf("unexpected heartbeat echo %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat not echoed")
	}

	select {
	case tk := <-tickCh:
		if tk.Symbol != "XAUUSD" || tk.Price != 2345.5 || !tk.TS.Equal(fixed) {
			t.Errorf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(tickCh) != 0 {
		t.Errorf("foreign symbol leaked into tick channel")
	}
}

func TestClient_PushNonBlocking(t *testing.T) {
	c, _ := New(Config{URL: "ws://unused", Symbol: "XAUUSD"})
	var dropped int
	c.OnDroppedTick = func(model.Tick) { dropped++ }
	tickCh := make(chan model.Tick, 1)
	c.push(model.Tick{Symbol: "XAUUSD", Price: 1}, tickCh)
	c.push(model.Tick{Symbol: "XAUUSD", Price: 2}, tickCh)
	if dropped != 1 || len(tickCh) != 1 {
		t.Errorf("expected one drop, got %d (len %d)", dropped, len(tickCh))
	}
}

func TestClient_ReconnectsUntilCancel(t *testing.T) {
	c, _ := New(Config{URL: "ws://127.0.0.1:1/ws", Symbol: "XAUUSD", ReconnectDelay: time.Millisecond, MaxReconnectDelay: 2 * time.Millisecond})
	reconnects := make(chan struct{}, 100)
	c.OnReconnect = func() {
		select {
		case reconnects <- struct{}{}:
		default:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan model.Tick, 1)) }()

	for i := 0; i < 2; i++ {
		select {
		case <-reconnects:
		case <-time.After(2 * time.Second):
			t.Fatal("expected reconnect attempts")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestClient_SilentUpstreamReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		// Read the subscribe messages, never send anything back.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol:            "XAUUSD",
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: time.Millisecond,
		ReadTimeout:       50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	reconnects := make(chan struct{}, 100)
	c.OnReconnect = func() {
		select {
		case reconnects <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan model.Tick, 1)) }()

	for i := 0; i < 2; i++ {
		select {
		case <-reconnects:
		case <-time.After(2 * time.Second):
			t.Fatal("silent connection was never dropped")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if n := conns.Load(); n < 2 {
		t.Errorf("expected the client to redial, got %d connections", n)
	}
}

func TestConfigDefaults_ReadTimeout(t *testing.T) {
	c, err := New(Config{URL: "ws://unused", Symbol: "XAUUSD"})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.ReadTimeout != 60*time.Second {
		t.Errorf("expected 60s read timeout, got %v", c.cfg.ReadTimeout)
	}
}
