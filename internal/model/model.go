package model

import "time"

// RawEvent is an event as delivered by an event source. Start and End are
// RFC 3339 timestamps; the JSON names match the upstream API.
type RawEvent struct {
	ID      int     `json:"event_id"`
	Title   string  `json:"title"`
	Start   string  `json:"start_time"`
	End     string  `json:"end_time"`
	Details *string `json:"details,omitempty"`
}

// DisplayEvent is an event shaped for the week widget.
type DisplayEvent struct {
	// ID is an int for events coming from a RawEvent; the widget also
	// accepts string IDs.
	ID          any       `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description *string   `json:"description,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
