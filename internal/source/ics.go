package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
)

// ICS fetches an iCalendar feed and maps its VEVENTs to RawEvents.
//
// The last body is kept in memory with its ETag/Last-Modified so that a 304
// or a transient failure after a successful fetch still yields events.
// RRULEs are not expanded; each VEVENT yields one RawEvent.
type ICS struct {
	url    string
	client *http.Client
	loc    *time.Location

	mu    sync.Mutex
	cache icsCache
}

type icsCache struct {
	etag         string
	lastModified string
	body         []byte
}

// NewICS returns an ICS source. All-day dates are placed at midnight in loc.
func NewICS(url string, client *http.Client, loc *time.Location) *ICS {
	if client == nil {
		client = http.DefaultClient
	}
	if loc == nil {
		loc = time.Local
	}
	return &ICS{url: url, client: client, loc: loc}
}

func (s *ICS) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	body, err := s.fetchBody(ctx)
	if err != nil {
		return nil, fail("ics", err)
	}
	events, err := ParseICS(body, s.loc)
	if err != nil {
		return nil, fail("ics", err)
	}
	return events, nil
}

func (s *ICS) fetchBody(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, errors.New("source URL is empty")
	}

	s.mu.Lock()
	cached := s.cache
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if len(cached.body) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(s.url))
			return cached.body, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache = icsCache{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		s.mu.Unlock()
		appLog.Info("ics fetch success", "url", redactURL(s.url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cached.body) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(s.url))
		return cached.body, nil

	default:
		if len(cached.body) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(s.url))
			return cached.body, nil
		}
		return nil, errors.New(resp.Status)
	}
}

// ParseICS maps the VEVENTs of an iCalendar payload to RawEvents ordered by
// start time, with ordinal IDs starting at 1. VEVENTs without a usable
// DTSTART are skipped; a missing DTEND makes the event zero-length, or one
// day long for an all-day event. All-day dates are midnight in loc.
func ParseICS(body []byte, loc *time.Location) ([]model.RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	type parsed struct {
		title, details string
		start, end     time.Time
	}
	items := make([]parsed, 0)

	if loc == nil {
		loc = time.Local
	}

	for _, ve := range cal.Events() {
		start, end, err := eventSpan(ve, loc)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		items = append(items, parsed{
			title:   propValue(ve, ical.ComponentPropertySummary),
			details: propValue(ve, ical.ComponentPropertyDescription),
			start:   start,
			end:     end,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].start.Before(items[j].start)
	})

	events := make([]model.RawEvent, 0, len(items))
	for i, it := range items {
		ev := model.RawEvent{
			ID:    i + 1,
			Title: it.title,
			Start: it.start.UTC().Format(time.RFC3339),
			End:   it.end.UTC().Format(time.RFC3339),
		}
		if it.details != "" {
			ev.Details = model.StringPtr(it.details)
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventSpan(ve *ical.VEvent, loc *time.Location) (start, end time.Time, err error) {
	if day, ok, err := allDayDate(ve, ical.ComponentPropertyDtStart, loc); ok {
		if err != nil {
			return start, end, err
		}
		end = day.AddDate(0, 0, 1)
		if last, ok, err := allDayDate(ve, ical.ComponentPropertyDtEnd, loc); ok && err == nil {
			end = last
		}
		return day, end, nil
	}

	if start, err = ve.GetStartAt(); err != nil {
		return start, end, err
	}
	if end, err = ve.GetEndAt(); err != nil {
		end = start
	}
	return start, end, nil
}

// allDayDate reports whether prop holds a DATE value and, if so, returns
// midnight of that date in loc.
func allDayDate(ve *ical.VEvent, prop ical.ComponentProperty, loc *time.Location) (time.Time, bool, error) {
	p := ve.GetProperty(prop)
	if p == nil {
		return time.Time{}, false, nil
	}
	v := p.ICalParameters["VALUE"]
	if !(len(v) > 0 && strings.EqualFold(v[0], "DATE")) && strings.Contains(p.Value, "T") {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation("20060102", p.Value, loc)
	return t, true, err
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}
