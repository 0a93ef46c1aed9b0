package source

import (
	"context"
	"errors"
	"time"

	"weekcal/internal/model"
)

// Mock returns a fixed set of three events after a simulated delay.
type Mock struct {
	delay    time.Duration
	loc      *time.Location
	failWith string
}

// NewMock returns a Mock whose event times are wall-clock times in loc.
// A nil loc means time.Local.
func NewMock(delay time.Duration, loc *time.Location) *Mock {
	if loc == nil {
		loc = time.Local
	}
	return &Mock{delay: delay, loc: loc}
}

// FailingWith returns a copy of m that rejects with msg after the delay.
func (m *Mock) FailingWith(msg string) *Mock {
	cp := *m
	cp.failWith = msg
	return &cp
}

func (m *Mock) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fail("mock", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, fail("mock", err)
	}

	if m.failWith != "" {
		return nil, fail("mock", errors.New(m.failWith))
	}
	return m.events(), nil
}

func (m *Mock) events() []model.RawEvent {
	at := func(month time.Month, day, hour, min int) string {
		return time.Date(2025, month, day, hour, min, 0, 0, m.loc).UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return []model.RawEvent{
		{
			ID:      1,
			Title:   "Team Meeting",
			Start:   at(time.April, 28, 10, 0),
			End:     at(time.April, 28, 11, 0),
			Details: model.StringPtr("Discuss Q2 strategy"),
		},
		{
			ID:      2,
			Title:   "Project Deadline",
			Start:   at(time.April, 30, 14, 0),
			End:     at(time.April, 30, 15, 30),
			Details: model.StringPtr("Submit final report"),
		},
		{
			ID:      3,
			Title:   "Client Presentation",
			Start:   at(time.May, 5, 9, 30),
			End:     at(time.May, 5, 10, 0),
			Details: model.StringPtr("Present new features"),
		},
	}
}
