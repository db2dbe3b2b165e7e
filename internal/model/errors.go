package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the source returned no data, malformed data,
	// or fewer candles than the indicator minimum.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrSourceTimeout is a fetch that hit its deadline. It matches
	// ErrDataUnavailable under errors.Is.
	ErrSourceTimeout = fmt.Errorf("%w: source timeout", ErrDataUnavailable)

	// ErrCacheCorrupt marks a malformed stored cache entry.
	ErrCacheCorrupt = errors.New("cache entry corrupt")

	// ErrInvalidInstrument is an unrecognised symbol, rejected before any fetch.
	ErrInvalidInstrument = errors.New("invalid instrument")
)

// SourceError carries the source and instrument a pipeline failure belongs to.
type SourceError struct {
	Source     string
	Instrument string
	Err        error
}

func (e *SourceError) Error() string {
	if e.Source == "" {
		return e.Instrument + ": " + e.Err.Error()
	}
	return e.Source + " " + e.Instrument + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }
