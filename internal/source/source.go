// Package source implements the CandleSource providers (TwelveData, Yahoo
// chart API, the rolling Redis window) and the instrument registry that
// routes a request to one of them.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"trading-signal/internal/breaker"
	"trading-signal/internal/model"
)

const (
	// DefaultOutputSize is the number of candles requested from providers.
	DefaultOutputSize = 120
	// DefaultInterval is the candle interval requested from providers.
	DefaultInterval = 5 * time.Minute

	maxBody = 4 << 20
)

// HTTPConfig is shared by the HTTP-backed providers.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Client     *http.Client
	Breaker    *breaker.Breaker // optional
	OutputSize int
}

func (c *HTTPConfig) defaults(timeout time.Duration) {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: timeout}
	}
	if c.OutputSize <= 0 {
		c.OutputSize = DefaultOutputSize
	}
}

// symbolFetcher fetches raw candles for a provider-specific symbol.
type symbolFetcher interface {
	name() string
	fetchSymbol(ctx context.Context, symbol string) ([]model.Candle, error)
}

// bound adapts a provider to model.CandleSource for one provider symbol.
type bound struct {
	p      symbolFetcher
	symbol string
}

func (b bound) Fetch(ctx context.Context, instrument string) (model.PriceSeries, error) {
	candles, err := b.p.fetchSymbol(ctx, b.symbol)
	if err != nil {
		return model.PriceSeries{}, wrapErr(b.p.name(), instrument, err)
	}
	return model.PriceSeries{Instrument: instrument, Candles: candles}, nil
}

// getJSON performs a GET through the optional breaker and returns the
// parsed body. Non-2xx statuses and invalid JSON are errors.
func getJSON(ctx context.Context, cfg HTTPConfig, url string, header http.Header) (gjson.Result, error) {
	var res gjson.Result
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := cfg.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("http status %d", resp.StatusCode)
		}
		if !gjson.ValidBytes(body) {
			return fmt.Errorf("%w: invalid json body", model.ErrDataUnavailable)
		}
		res = gjson.ParseBytes(body)
		return nil
	}
	var err error
	if cfg.Breaker == nil {
		err = call()
	} else {
		err = cfg.Breaker.Execute(call)
	}
	return res, err
}

// wrapErr maps a provider failure onto the error taxonomy: deadlines become
// ErrSourceTimeout, everything else ErrDataUnavailable.
func wrapErr(source, instrument string, err error) error {
	var se *model.SourceError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
	case isTimeout(err):
		err = fmt.Errorf("%w: %v", model.ErrSourceTimeout, err)
	default:
		err = fmt.Errorf("%w: %v", model.ErrDataUnavailable, err)
	}
	return &model.SourceError{Source: source, Instrument: instrument, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// unavailable is registered for catalog entries whose provider is not
// configured, so requests fail as DataUnavailable rather than unknown.
type unavailable struct{ reason string }

func (u unavailable) Fetch(_ context.Context, instrument string) (model.PriceSeries, error) {
	return model.PriceSeries{}, &model.SourceError{
		Instrument: instrument,
		Err:        fmt.Errorf("%w: %s", model.ErrDataUnavailable, u.reason),
	}
}
