package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
)

// GoogleOptions configures a Google Calendar source.
type GoogleOptions struct {
	// CalendarID defaults to "primary".
	CalendarID string
	// APIKey is used for public calendars when HTTPClient is nil.
	APIKey string
	// Endpoint overrides the API base URL, mainly for tests.
	Endpoint string
	// HTTPClient, if set, is used as-is and bypasses credential lookup.
	HTTPClient *http.Client
	// Location places all-day dates; nil means time.Local.
	Location *time.Location
	// TimeMin/TimeMax bound the listed events when non-zero.
	TimeMin time.Time
	TimeMax time.Time
}

// Google lists events through the Google Calendar v3 API.
type Google struct {
	service *calendar.Service
	opts    GoogleOptions
}

func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	srv, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &Google{service: srv, opts: opts}, nil
}

func (g *Google) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	call := g.service.Events.List(g.opts.CalendarID).Context(ctx).SingleEvents(true).OrderBy("startTime")
	if !g.opts.TimeMin.IsZero() {
		call = call.TimeMin(g.opts.TimeMin.Format(time.RFC3339))
	}
	if !g.opts.TimeMax.IsZero() {
		call = call.TimeMax(g.opts.TimeMax.Format(time.RFC3339))
	}

	events := make([]model.RawEvent, 0)
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fail("google", fmt.Errorf("unable to retrieve events: %w", err))
		}

		for _, item := range page.Items {
			ev, ok := g.mapEvent(len(events)+1, item)
			if !ok {
				appLog.Debug("google event without start/end skipped", "id", item.Id)
				continue
			}
			events = append(events, ev)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	appLog.Info("google source fetched", "calendar_id", g.opts.CalendarID, "event_count", len(events))
	return events, nil
}

// mapEvent converts a Calendar API event. All-day dates become midnight in
// the configured location.
func (g *Google) mapEvent(id int, item *calendar.Event) (model.RawEvent, bool) {
	start, ok := g.eventTime(item.Start)
	if !ok {
		return model.RawEvent{}, false
	}
	end, ok := g.eventTime(item.End)
	if !ok {
		end = start
	}

	ev := model.RawEvent{
		ID:    id,
		Title: item.Summary,
		Start: start,
		End:   end,
	}
	if item.Description != "" {
		ev.Details = model.StringPtr(item.Description)
	}
	return ev, true
}

func (g *Google) eventTime(dt *calendar.EventDateTime) (string, bool) {
	if dt == nil {
		return "", false
	}
	if dt.DateTime != "" {
		return dt.DateTime, true
	}
	if dt.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", dt.Date, g.opts.Location)
		if err != nil {
			return "", false
		}
		return day.Format(time.RFC3339), true
	}
	return "", false
}
