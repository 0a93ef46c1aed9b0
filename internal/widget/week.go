// Package widget renders a seven-day week view of display events.
//
// The widget is declarative: callers pass Props (events, view mode,
// start/end accessors, an event renderer and a localizer) and get HTML.
package widget

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"weekcal/internal/locale"
	"weekcal/internal/model"
)

// ViewWeek is the only supported view mode.
const ViewWeek = "week"

const minutesPerDay = 24 * 60

// Accessor reads a time off an event.
type Accessor func(model.DisplayEvent) time.Time

// EventRenderer renders the body of one event block.
type EventRenderer func(model.DisplayEvent) template.HTML

// StartAccessor and EndAccessor read the Start and End fields.
func StartAccessor(e model.DisplayEvent) time.Time { return e.Start }
func EndAccessor(e model.DisplayEvent) time.Time   { return e.End }

// Props configures one render.
type Props struct {
	Events         []model.DisplayEvent
	View           string
	StartAccessor  Accessor
	EndAccessor    Accessor
	EventComponent EventRenderer
	Localizer      *locale.Localizer
	// Date is any instant inside the week to show.
	Date time.Time
	// Location is the display zone; nil means Date's location.
	Location *time.Location
	// Now marks today's column; nil means time.Now.
	Now func() time.Time
	// Link builds navigation hrefs for a date; nil disables the toolbar links.
	Link func(time.Time) string
}

// Week is the laid-out grid.
type Week struct {
	Start time.Time
	End   time.Time
	Title string
	Days  []Day
	Hours []string
	Prev  string
	Today string
	Next  string
}

// Day is one column.
type Day struct {
	Date    time.Time
	Header  string
	IsToday bool
	Blocks  []Block
}

// Block is one positioned event. Top and Height are percentages of the
// day column.
type Block struct {
	Event     model.DisplayEvent
	Top       float64
	Height    float64
	TimeLabel string
	Body      template.HTML
}

// Layout places events on the week containing p.Date. Each event lands in
// the column of its start date and is clipped at midnight; events starting
// outside the week are omitted.
func Layout(p Props) (Week, error) {
	if p.View == "" {
		p.View = ViewWeek
	}
	if p.View != ViewWeek {
		return Week{}, fmt.Errorf("widget: unsupported view %q", p.View)
	}
	if p.Localizer == nil {
		return Week{}, errors.New("widget: localizer is required")
	}
	if p.StartAccessor == nil {
		p.StartAccessor = StartAccessor
	}
	if p.EndAccessor == nil {
		p.EndAccessor = EndAccessor
	}
	if p.EventComponent == nil {
		p.EventComponent = DefaultEvent
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	loc := p.Location
	if loc == nil {
		loc = p.Date.Location()
	}

	l := p.Localizer
	start := l.StartOfWeek(p.Date.In(loc))
	end := start.AddDate(0, 0, 7)
	now := p.Now().In(loc)

	w := Week{
		Start: start,
		End:   end,
		Title: l.Format(start, locale.FormatRangeHeader) + " – " + l.Format(end.AddDate(0, 0, -1), locale.FormatRangeHeader),
		Days:  make([]Day, 7),
		Hours: make([]string, 24),
	}
	sy, sm, sd := start.Date()
	for h := range w.Hours {
		w.Hours[h] = l.Format(time.Date(sy, sm, sd, h, 0, 0, 0, loc), locale.FormatTimeGutter)
	}
	for i := range w.Days {
		d := start.AddDate(0, 0, i)
		w.Days[i] = Day{
			Date:    d,
			Header:  l.Format(d, locale.FormatDayHeader),
			IsToday: sameDate(d, now),
		}
	}
	if p.Link != nil {
		w.Prev = p.Link(start.AddDate(0, 0, -7))
		w.Today = p.Link(now)
		w.Next = p.Link(end)
	}

	for _, ev := range p.Events {
		evStart := p.StartAccessor(ev).In(loc)
		evEnd := p.EndAccessor(ev).In(loc)
		if evStart.Before(start) || !evStart.Before(end) {
			continue
		}
		// Days are 23 or 25 hours long across DST changes, so the column
		// is picked by calendar date rather than elapsed time.
		idx := dayIndex(w.Days, evStart)
		if idx < 0 {
			continue
		}

		dayEnd := w.Days[idx].Date.AddDate(0, 0, 1)
		if evEnd.After(dayEnd) {
			evEnd = dayEnd
		}
		if evEnd.Before(evStart) {
			evEnd = evStart
		}

		// Positions follow the wall clock of the 24-row gutter.
		top := float64(evStart.Hour()*60+evStart.Minute()) / minutesPerDay * 100
		height := evEnd.Sub(evStart).Minutes() / minutesPerDay * 100
		if height < 1.5 {
			height = 1.5
		}
		if top+height > 100 {
			height = 100 - top
		}

		w.Days[idx].Blocks = append(w.Days[idx].Blocks, Block{
			Event:     ev,
			Top:       top,
			Height:    height,
			TimeLabel: l.Format(evStart, locale.FormatEventTime) + " – " + l.Format(p.EndAccessor(ev).In(loc), locale.FormatEventTime),
			Body:      p.EventComponent(ev),
		})
	}

	for i := range w.Days {
		blocks := w.Days[i].Blocks
		sort.SliceStable(blocks, func(a, b int) bool { return blocks[a].Top < blocks[b].Top })
	}
	return w, nil
}

//go:embed week.html
var weekHTML string

var weekTmpl = template.Must(template.New("week").Funcs(template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.3f%%", f) },
}).Parse(weekHTML))

// Render lays out p and writes the week grid as an HTML fragment.
func Render(w io.Writer, p Props) error {
	week, err := Layout(p)
	if err != nil {
		return err
	}
	return weekTmpl.Execute(w, week)
}

var eventTmpl = template.Must(template.New("event").Parse(
	`<strong>{{.Title}}</strong>{{with .Description}}<p class="rbc-event-description">{{.}}</p>{{end}}`))

// DefaultEvent renders the title in bold followed by the description, if any.
func DefaultEvent(e model.DisplayEvent) template.HTML {
	var buf bytes.Buffer
	if err := eventTmpl.Execute(&buf, e); err != nil {
		return template.HTML(template.HTMLEscapeString(e.Title))
	}
	return template.HTML(buf.String())
}

// dayIndex returns the column whose date is t's date, or -1.
func dayIndex(days []Day, t time.Time) int {
	for i, d := range days {
		if sameDate(d.Date, t) {
			return i
		}
	}
	return -1
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
