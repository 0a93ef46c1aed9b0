// Package transform maps raw source records onto display events.
package transform

import (
	"fmt"
	"time"

	"weekcal/internal/model"
)

// ToDisplayEvent converts a single RawEvent. Start and End are parsed as
// RFC 3339 timestamps and Details is carried over as Description.
func ToDisplayEvent(e model.RawEvent) (model.DisplayEvent, error) {
	start, err := time.Parse(time.RFC3339Nano, e.Start)
	if err != nil {
		return model.DisplayEvent{}, fmt.Errorf("event %d: start: %w", e.ID, err)
	}
	end, err := time.Parse(time.RFC3339Nano, e.End)
	if err != nil {
		return model.DisplayEvent{}, fmt.Errorf("event %d: end: %w", e.ID, err)
	}

	out := model.DisplayEvent{
		ID:    e.ID,
		Title: e.Title,
		Start: start,
		End:   end,
	}
	if e.Details != nil {
		out.Description = model.StringPtr(*e.Details)
	}
	return out, nil
}

// ToDisplayEvents converts raw in order, one DisplayEvent per RawEvent.
// The input is not modified and the result never aliases it.
func ToDisplayEvents(raw []model.RawEvent) ([]model.DisplayEvent, error) {
	out := make([]model.DisplayEvent, 0, len(raw))
	for _, e := range raw {
		d, err := ToDisplayEvent(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
