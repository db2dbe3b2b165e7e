package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trading-signal/internal/logger"
	"trading-signal/internal/model"
	"trading-signal/internal/signalsvc"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeService struct {
	res      signalsvc.Result
	err      error
	resetErr error

	lastInst  string
	lastTrace string
	resets    []string
}

func (f *fakeService) GetSignal(ctx context.Context, instrument string) (signalsvc.Result, error) {
	f.lastInst = instrument
	f.lastTrace = logger.TraceID(ctx)
	return f.res, f.err
}

func (f *fakeService) Reset(_ context.Context, instrument string) error {
	f.resets = append(f.resets, instrument)
	return f.resetErr
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetSignal_OK(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	svc := &fakeService{res: signalsvc.Result{
		Instrument: "XAUUSD", Signal: model.WeakBuy, Message: "msg", Price: 2345.6, ComputedAt: at, Cached: true,
	}}
	r := NewRouter(svc, Options{})

	rec := do(r, http.MethodGet, "/signal/xauusd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["instrument"] != "XAUUSD" || body["signal"] != "WEAK_BUY" || body["cached"] != true || body["price"] != 2345.6 {
		t.Errorf("unexpected body %v", body)
	}
	if body["computedAt"] != "2023-11-14T22:13:20Z" {
		t.Errorf("unexpected computedAt %v", body["computedAt"])
	}
	if svc.lastInst != "XAUUSD" {
		t.Errorf("instrument not normalised: %q", svc.lastInst)
	}
}

func TestGetSignal_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid", fmt.Errorf("%w: %q", model.ErrInvalidInstrument, "DOGE"), http.StatusNotFound},
		{"unavailable", &model.SourceError{Source: "yahoo", Instrument: "XAUUSD", Err: model.ErrDataUnavailable}, http.StatusServiceUnavailable},
		{"timeout", model.ErrSourceTimeout, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(&fakeService{err: tc.err}, Options{})
			rec := do(r, http.MethodGet, "/signal/doge", nil)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			var body map[string]string
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body["error"] == "" || body["instrument"] != "DOGE" {
				t.Errorf("unexpected error body %v", body)
			}
			if tc.code == http.StatusInternalServerError && strings.Contains(body["error"], "boom") {
				t.Error("internal error details leaked")
			}
		})
	}
}

func TestReset(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc, Options{})

	rec := do(r, http.MethodPost, "/signal/btc/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.resets) != 1 || svc.resets[0] != "BTC" {
		t.Errorf("unexpected resets %v", svc.resets)
	}
	if !strings.Contains(rec.Body.String(), `"reset":true`) {
		t.Errorf("unexpected body %s", rec.Body)
	}

	svc.resetErr = model.ErrInvalidInstrument
	if rec := do(r, http.MethodPost, "/signal/doge/reset", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/signal/btc/reset", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET on reset should not route, got %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	svc := &fakeService{res: signalsvc.Result{Instrument: "BTC"}}
	r := NewRouter(svc, Options{})

	rec := do(r, http.MethodGet, "/signal/BTC", map[string]string{RequestIDHeader: "req-123"})
	if rec.Header().Get(RequestIDHeader) != "req-123" || svc.lastTrace != "req-123" {
		t.Errorf("request id not propagated: header=%q trace=%q", rec.Header().Get(RequestIDHeader), svc.lastTrace)
	}

	rec = do(r, http.MethodGet, "/signal/BTC", nil)
	if id := rec.Header().Get(RequestIDHeader); id == "" || id != svc.lastTrace {
		t.Errorf("expected generated request id, got header=%q trace=%q", id, svc.lastTrace)
	}
}

func TestAuxRoutes(t *testing.T) {
	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# metrics")
	})
	svc := &fakeService{res: signalsvc.Result{Instrument: "ETH"}}
	r := NewRouter(svc, Options{Health: health, Metrics: metrics, Instruments: func() []string { return []string{"BTC", "ETH"} }})

	if rec := do(r, http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz: expected handler status, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/metrics", nil); rec.Body.String() != "# metrics" {
		t.Errorf("metrics: unexpected body %q", rec.Body)
	}
	rec := do(r, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"instruments":["BTC","ETH"]`) {
		t.Errorf("home: unexpected %d %s", rec.Code, rec.Body)
	}
	if rec := do(r, http.MethodGet, "/get_signal/eth", nil); rec.Code != http.StatusOK || svc.lastInst != "ETH" {
		t.Errorf("legacy path: %d %q", rec.Code, svc.lastInst)
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(model.ErrCacheCorrupt) != http.StatusInternalServerError {
		t.Error("cache corruption should never reach the client as anything but 500")
	}
}
