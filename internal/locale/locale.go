// Package locale holds the date formatting table used by the week widget:
// named formats, parsing, start of week and day of week, per locale.
package locale

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Format names a localized layout.
type Format string

const (
	// FormatDayHeader labels a day column, e.g. "Mon 04/28".
	FormatDayHeader Format = "dayFormat"
	// FormatTimeGutter labels an hour row, e.g. "10 AM".
	FormatTimeGutter Format = "timeGutterFormat"
	// FormatEventTime labels an event start or end, e.g. "9:30 AM".
	FormatEventTime Format = "eventTimeFormat"
	// FormatRangeHeader labels the week range ends, e.g. "April 27".
	FormatRangeHeader Format = "dayRangeHeaderFormat"
	// FormatDate is the machine date used in links, e.g. "2025-04-28".
	FormatDate Format = "date"
)

// Locale is one row of the locale table.
type Locale struct {
	Tag          language.Tag
	WeekStartsOn time.Weekday
	Layouts      map[Format]string
}

// EnUS is the only locale shipped.
var EnUS = &Locale{
	Tag:          language.AmericanEnglish,
	WeekStartsOn: time.Sunday,
	Layouts: map[Format]string{
		FormatDayHeader:   "Mon 01/02",
		FormatTimeGutter:  "3 PM",
		FormatEventTime:   "3:04 PM",
		FormatRangeHeader: "January 02",
		FormatDate:        "2006-01-02",
	},
}

// Table maps canonical BCP 47 tags to locales.
type Table map[string]*Locale

// DefaultTable returns the built-in table.
func DefaultTable() Table {
	return Table{EnUS.Tag.String(): EnUS}
}

// Localizer formats and parses dates for one culture of a table.
type Localizer struct {
	locale    *Locale
	weekStart time.Weekday
}

// NewLocalizer picks culture (any BCP 47 spelling, e.g. "en-US", "en_us")
// from table.
func NewLocalizer(table Table, culture string) (*Localizer, error) {
	tag, err := language.Parse(culture)
	if err != nil {
		return nil, fmt.Errorf("locale %q: %w", culture, err)
	}
	l, ok := table[tag.String()]
	if !ok {
		return nil, fmt.Errorf("locale %q is not in the locale table", tag.String())
	}
	return &Localizer{locale: l, weekStart: l.WeekStartsOn}, nil
}

// WithWeekStart returns a copy of l whose weeks start on d.
func (l *Localizer) WithWeekStart(d time.Weekday) *Localizer {
	cp := *l
	cp.weekStart = d
	return &cp
}

// Culture returns the canonical tag, e.g. "en-US".
func (l *Localizer) Culture() string {
	return l.locale.Tag.String()
}

// WeekStart returns the first day of the week.
func (l *Localizer) WeekStart() time.Weekday {
	return l.weekStart
}

func (l *Localizer) layout(f Format) string {
	if layout, ok := l.locale.Layouts[f]; ok {
		return layout
	}
	return time.RFC3339
}

// Format renders t with the named layout.
func (l *Localizer) Format(t time.Time, f Format) string {
	return t.Format(l.layout(f))
}

// Parse reads s with the named layout in loc.
func (l *Localizer) Parse(s string, f Format, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(l.layout(f), s, loc)
}

// StartOfWeek returns midnight of the first day of the week containing t,
// in t's location.
func (l *Localizer) StartOfWeek(t time.Time) time.Time {
	diff := (int(t.Weekday()) - int(l.weekStart) + 7) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-diff, 0, 0, 0, 0, t.Location())
}

// GetDay returns the day of the week of t.
func (l *Localizer) GetDay(t time.Time) time.Weekday {
	return t.Weekday()
}
