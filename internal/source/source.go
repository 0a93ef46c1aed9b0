// Package source provides the event sources the presenter fetches from.
//
// Every implementation reports failures as *FetchError so callers can tell
// a failed fetch cycle apart from their own errors with errors.As.
package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"weekcal/internal/config"
	"weekcal/internal/model"
)

// EventSource supplies the raw event list for one fetch cycle.
type EventSource interface {
	Fetch(ctx context.Context) ([]model.RawEvent, error)
}

// FetchError is the single failure kind of a fetch cycle. Its message is
// the cause's description, unchanged.
type FetchError struct {
	// Source names the implementation that failed (mock, http, ics, google).
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fail(src string, err error) error {
	return &FetchError{Source: src, Err: err}
}

// New builds the source selected by cfg. loc is the display zone used by the
// mock's wall-clock times and by all-day dates from Google and ICS.
func New(ctx context.Context, cfg config.SourceConfig, loc *time.Location) (EventSource, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := &http.Client{Timeout: timeout}

	switch cfg.Kind {
	case config.SourceMock, "":
		m := NewMock(time.Duration(cfg.DelayMs)*time.Millisecond, loc)
		if cfg.FailWith != "" {
			m = m.FailingWith(cfg.FailWith)
		}
		return m, nil
	case config.SourceHTTP:
		return NewHTTP(cfg.URL, client), nil
	case config.SourceICS:
		return NewICS(cfg.URL, client, loc), nil
	case config.SourceGoogle:
		return NewGoogle(ctx, GoogleOptions{
			CalendarID: cfg.CalendarID,
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.URL,
			Location:   loc,
		})
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
