package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"trading-signal/internal/model"
)

// Provider names used in the instrument catalog.
const (
	ProviderTwelveData = "twelvedata"
	ProviderYahoo      = "yahoo"
	ProviderWindow     = "window"

	QuoteMetals = "metals"
)

// Entry maps one instrument to a provider and the provider's symbol.
type Entry struct {
	Provider string `yaml:"provider"`
	Symbol   string `yaml:"symbol"`
	Quote    string `yaml:"quote,omitempty"`
}

// Catalog is the set of supported instruments.
type Catalog struct {
	Instruments map[string]Entry `yaml:"instruments"`
}

// DefaultCatalog is the built-in instrument set.
func DefaultCatalog() Catalog {
	return Catalog{Instruments: map[string]Entry{
		"XAUUSD": {Provider: ProviderYahoo, Symbol: "GC=F", Quote: QuoteMetals},
		"BTC":    {Provider: ProviderTwelveData, Symbol: "BTC/USD"},
		"ETH":    {Provider: ProviderTwelveData, Symbol: "ETH/USD"},
		"DJI":    {Provider: ProviderTwelveData, Symbol: "DJI"},
		"IXIC":   {Provider: ProviderTwelveData, Symbol: "IXIC"},
		"EURUSD": {Provider: ProviderTwelveData, Symbol: "EUR/USD"},
		"GBPUSD": {Provider: ProviderTwelveData, Symbol: "GBP/USD"},
	}}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("source: read catalog: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes a YAML catalog:
//
//	instruments:
//	  BTC: {provider: twelvedata, symbol: BTC/USD}
//	  XAUUSD: {provider: yahoo, symbol: GC=F, quote: metals}
func ParseCatalog(b []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return Catalog{}, fmt.Errorf("source: parse catalog: %w", err)
	}
	if len(cat.Instruments) == 0 {
		return Catalog{}, errors.New("source: catalog has no instruments")
	}
	norm := make(map[string]Entry, len(cat.Instruments))
	for inst, e := range cat.Instruments {
		e.Provider = strings.ToLower(e.Provider)
		e.Quote = strings.ToLower(e.Quote)
		norm[Normalize(inst)] = e
	}
	cat.Instruments = norm
	return cat, nil
}

// Providers are the configured backends a catalog is bound to. Nil
// providers make their instruments fail as DataUnavailable.
type Providers struct {
	TwelveData     *TwelveData
	Yahoo          *Yahoo
	Metals         *MetalsQuote
	Window         model.CandleWindow
	WindowInterval time.Duration
}

// Build binds every catalog entry to its provider.
func Build(cat Catalog, p Providers, timeout time.Duration) (*Registry, error) {
	r := NewRegistry(timeout)
	for inst, e := range cat.Instruments {
		sym := e.Symbol
		if sym == "" {
			sym = inst
		}

		var src model.CandleSource
		switch e.Provider {
		case ProviderTwelveData:
			if p.TwelveData != nil {
				src = p.TwelveData.For(sym)
			}
		case ProviderYahoo:
			if p.Yahoo != nil {
				src = p.Yahoo.For(sym)
			}
		case ProviderWindow:
			if p.Window != nil {
				interval := p.WindowInterval
				if interval <= 0 {
					interval = DefaultInterval
				}
				src = NewWindow(p.Window, model.WindowKey(sym, interval))
			}
		default:
			return nil, fmt.Errorf("source: %s: unknown provider %q", inst, e.Provider)
		}
		if src == nil {
			slog.Warn("instrument provider not configured", "instrument", inst, "provider", e.Provider)
			src = unavailable{reason: e.Provider + " provider not configured"}
		}

		switch e.Quote {
		case "":
		case QuoteMetals:
			if p.Metals != nil {
				src = WithOverride(src, p.Metals)
			}
		default:
			return nil, fmt.Errorf("source: %s: unknown quote source %q", inst, e.Quote)
		}
		r.Register(inst, src)
	}
	return r, nil
}

// Normalize upper-cases and trims an instrument symbol.
func Normalize(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// Registry routes instruments to their CandleSource. It is itself a
// CandleSource: unknown instruments fail with ErrInvalidInstrument before
// any fetch, and every fetch runs under the fetch timeout.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]model.CandleSource
	timeout time.Duration

	// OnFetch is called after every provider fetch (metrics hook).
	OnFetch func(instrument string, took time.Duration, err error)
}

// NewRegistry creates an empty registry.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{sources: make(map[string]model.CandleSource), timeout: timeout}
}

// Register adds or replaces the source for an instrument.
func (r *Registry) Register(instrument string, src model.CandleSource) {
	r.mu.Lock()
	r.sources[Normalize(instrument)] = src
	r.mu.Unlock()
}

// Lookup returns the source for instrument or ErrInvalidInstrument.
func (r *Registry) Lookup(instrument string) (model.CandleSource, error) {
	inst := Normalize(instrument)
	r.mu.RLock()
	src, ok := r.sources[inst]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidInstrument, instrument)
	}
	return src, nil
}

// Instruments returns the registered instruments, sorted.
func (r *Registry) Instruments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for inst := range r.sources {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// Fetch resolves instrument and fetches its series under the fetch timeout.
func (r *Registry) Fetch(ctx context.Context, instrument string) (model.PriceSeries, error) {
	src, err := r.Lookup(instrument)
	if err != nil {
		return model.PriceSeries{}, err
	}
	inst := Normalize(instrument)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	s, err := src.Fetch(ctx, inst)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && !errors.Is(err, model.ErrSourceTimeout) {
			err = &model.SourceError{Instrument: inst, Err: fmt.Errorf("%w: %v", model.ErrSourceTimeout, err)}
		} else {
			err = wrapErr("", inst, err)
		}
	}
	if r.OnFetch != nil {
		r.OnFetch(inst, time.Since(start), err)
	}
	return s, err
}
