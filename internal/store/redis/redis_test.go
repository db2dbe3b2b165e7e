package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-signal/internal/breaker"
	"trading-signal/internal/model"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func candleAt(i int) model.Candle {
	p := 100 + float64(i)
	return model.Candle{
		Symbol: "XAUUSD", Interval: 5 * time.Minute,
		TS:   time.Unix(1700000000+int64(i)*300, 0).UTC(),
		Open: p, High: p + 1, Low: p - 1, Close: p,
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	if err := Ping(context.Background(), client); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestWindowStore_Eviction(t *testing.T) {
	const max = 30
	_, client := newTestClient(t)
	ws := NewWindowStore(client, max, time.Second, nil)
	ctx := context.Background()
	key := model.WindowKey("XAUUSD", 5*time.Minute)

	for i := 0; i < max+5; i++ {
		if err := ws.Append(ctx, key, candleAt(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	n, err := ws.Len(ctx, key)
	if err != nil || n != max {
		t.Fatalf("expected %d entries, got %d (%v)", max, n, err)
	}
	got, err := ws.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range got {
		want := candleAt(i + 5)
		if c.Close != want.Close || !c.TS.Equal(want.TS) {
			t.Fatalf("index %d: got close %.0f ts %d, want %.0f ts %d", i, c.Close, c.TS.Unix(), want.Close, want.TS.Unix())
		}
	}
}

func TestWindowStore_WireLayout(t *testing.T) {
	mr, client := newTestClient(t)
	ws := NewWindowStore(client, 30, time.Second, nil)
	key := "candle:XAUUSD:M5"

	c := model.Candle{TS: time.Unix(1700000300, 0), Open: 100, High: 102, Low: 99, Close: 102}
	if err := ws.Append(context.Background(), key, c); err != nil {
		t.Fatal(err)
	}
	list, err := mr.List(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0] != `{"time":1700000300,"open":100,"high":102,"low":99,"close":102}` {
		t.Errorf("unexpected stored entry %v", list)
	}
}

func TestWindowStore_SkipsMalformed(t *testing.T) {
	mr, client := newTestClient(t)
	ws := NewWindowStore(client, 30, time.Second, nil)
	key := "candle:XAUUSD:M5"

	mr.RPush(key, "not-json")
	ws.Append(context.Background(), key, candleAt(1))

	got, err := ws.Load(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Close != 101 {
		t.Errorf("expected only the valid candle, got %v", got)
	}
}

func TestCacheStore_RoundTrip(t *testing.T) {
	mr, client := newTestClient(t)
	cs := NewCacheStore(client, time.Second, nil)
	ctx := context.Background()
	key := "signal_cache:BTC"

	if got, err := cs.Get(ctx, key); err != nil || got != nil {
		t.Fatalf("expected miss, got %v (%v)", got, err)
	}

	fields := map[string]string{"timestamp": "1700000000.5", "price": "64000.1", "signal_type": "WEAK_BUY"}
	if err := cs.Put(ctx, key, fields, 120*time.Second); err != nil {
		t.Fatal(err)
	}
	got, err := cs.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if got[k] != v {
			t.Errorf("field %s: got %q, want %q", k, got[k], v)
		}
	}
	if ttl := mr.TTL(key); ttl != 120*time.Second {
		t.Errorf("expected storage TTL 120s, got %v", ttl)
	}

	mr.FastForward(121 * time.Second)
	if got, _ := cs.Get(ctx, key); got != nil {
		t.Errorf("expected expiry, got %v", got)
	}
}

func TestCacheStore_PutReplacesFields(t *testing.T) {
	mr, client := newTestClient(t)
	cs := NewCacheStore(client, time.Second, nil)
	ctx := context.Background()
	key := "signal_cache:ETH"

	mr.HSet(key, "stale", "x")
	cs.Put(ctx, key, map[string]string{"signal_type": "WEAK_SELL"}, time.Minute)

	got, _ := cs.Get(ctx, key)
	if _, ok := got["stale"]; ok {
		t.Errorf("Put should replace the whole entry, got %v", got)
	}
}

func TestCacheStore_Delete(t *testing.T) {
	mr, client := newTestClient(t)
	cs := NewCacheStore(client, time.Second, nil)
	ctx := context.Background()

	mr.HSet("signal_cache:BTC", "timestamp", "1")
	if err := cs.Delete(ctx, "signal_cache:BTC"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("signal_cache:BTC") {
		t.Error("expected key deleted")
	}
	if err := cs.Delete(ctx, "signal_cache:missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestCacheStore_BreakerOpensOnDeadServer(t *testing.T) {
	mr, client := newTestClient(t)
	cb := breaker.New("redis", 2, time.Minute)
	cs := NewCacheStore(client, 200*time.Millisecond, cb)
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cs.Get(ctx, "signal_cache:BTC"); err == nil {
			t.Fatal("expected error from closed server")
		}
	}
	if cb.CurrentState() != breaker.StateOpen {
		t.Fatalf("expected breaker open, got %v", cb.CurrentState())
	}
	if _, err := cs.Get(ctx, "signal_cache:BTC"); !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}
