// Package presenter turns the event query into a page: Loading while the
// fetch is in flight, Loaded with the week widget, or Errored with the
// failure description.
package presenter

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"html/template"
	"io"
	"net/url"
	"time"

	"weekcal/internal/locale"
	"weekcal/internal/model"
	"weekcal/internal/query"
	"weekcal/internal/source"
	"weekcal/internal/transform"
	"weekcal/internal/widget"
)

// QueryKey is the cache key of the event list.
const QueryKey = "calendarEvents"

type State string

const (
	Loading State = "loading"
	Loaded  State = "loaded"
	Errored State = "errored"
)

// View is what the presenter shows for one render.
type View struct {
	State     State
	Events    []model.DisplayEvent
	Err       error
	UpdatedAt time.Time
}

// Message is the user-visible status line for Loading and Errored views.
func (v View) Message() string {
	switch v.State {
	case Loading:
		return "Loading events..."
	case Errored:
		return "Error loading events: " + v.Err.Error()
	default:
		return ""
	}
}

// Settled reports whether the fetch has resolved or rejected.
func (v View) Settled() bool {
	return v.State != Loading
}

type Presenter struct {
	client    *query.Client
	src       source.EventSource
	key       string
	localizer *locale.Localizer
	loc       *time.Location
	now       func() time.Time
	initial   time.Time
	event     widget.EventRenderer
}

type Option func(*Presenter)

// WithKey overrides QueryKey.
func WithKey(key string) Option {
	return func(p *Presenter) { p.key = key }
}

func WithLocalizer(l *locale.Localizer) Option {
	return func(p *Presenter) { p.localizer = l }
}

// WithLocation sets the display zone.
func WithLocation(loc *time.Location) Option {
	return func(p *Presenter) { p.loc = loc }
}

func WithNow(now func() time.Time) Option {
	return func(p *Presenter) { p.now = now }
}

// WithInitialDate sets the day whose week is shown when none is requested.
func WithInitialDate(d time.Time) Option {
	return func(p *Presenter) { p.initial = d }
}

// WithEventRenderer replaces the default event block body.
func WithEventRenderer(r widget.EventRenderer) Option {
	return func(p *Presenter) { p.event = r }
}

// New builds a presenter over an injected query client and event source.
func New(client *query.Client, src source.EventSource, opts ...Option) (*Presenter, error) {
	if client == nil {
		return nil, errors.New("presenter: query client is required")
	}
	if src == nil {
		return nil, errors.New("presenter: event source is required")
	}
	p := &Presenter{
		client: client,
		src:    src,
		key:    QueryKey,
		loc:    time.Local,
		now:    time.Now,
		event:  widget.DefaultEvent,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.localizer == nil {
		l, err := locale.NewLocalizer(locale.DefaultTable(), "en-US")
		if err != nil {
			return nil, err
		}
		p.localizer = l
	}
	return p, nil
}

// Key returns the query key the presenter reads.
func (p *Presenter) Key() string {
	return p.key
}

// View returns the current view without blocking. The first call starts
// the fetch.
func (p *Presenter) View() View {
	return p.toView(query.UseQuery(p.client, p.key, p.src.Fetch))
}

// Await blocks until the fetch settles or ctx ends.
func (p *Presenter) Await(ctx context.Context) View {
	return p.toView(query.AwaitQuery(ctx, p.client, p.key, p.src.Fetch))
}

// Refetch fetches the events again and waits for the result.
func (p *Presenter) Refetch(ctx context.Context) View {
	return p.toView(query.RefetchQuery(ctx, p.client, p.key, p.src.Fetch))
}

func (p *Presenter) toView(r query.Result[[]model.RawEvent]) View {
	switch {
	case r.IsLoading:
		return View{State: Loading}
	case r.Err != nil:
		return View{State: Errored, Err: r.Err, UpdatedAt: r.UpdatedAt}
	}

	events, err := transform.ToDisplayEvents(r.Data)
	if err != nil {
		return View{State: Errored, Err: &source.FetchError{Source: "transform", Err: err}, UpdatedAt: r.UpdatedAt}
	}
	return View{State: Loaded, Events: events, UpdatedAt: r.UpdatedAt}
}

// WeekDate resolves the requested date parameter (YYYY-MM-DD). An empty
// parameter yields the initial date, or today.
func (p *Presenter) WeekDate(param string) (time.Time, error) {
	if param == "" {
		if !p.initial.IsZero() {
			return p.initial.In(p.loc), nil
		}
		return p.now().In(p.loc), nil
	}
	return p.localizer.Parse(param, locale.FormatDate, p.loc)
}

// WeekRange returns the bounds of the week containing date.
func (p *Presenter) WeekRange(date time.Time) (time.Time, time.Time) {
	start := p.localizer.StartOfWeek(date.In(p.loc))
	return start, start.AddDate(0, 0, 7)
}

// Localizer returns the localizer used for layout.
func (p *Presenter) Localizer() *locale.Localizer {
	return p.localizer
}

//go:embed page.html
var pageHTML string

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

type pageData struct {
	State    State
	Ready    bool
	Message  string
	Culture  string
	Key      string
	Calendar template.HTML
}

// Render writes the full page for v, showing the week containing date.
func (p *Presenter) Render(w io.Writer, v View, date time.Time) error {
	data := pageData{
		State:   v.State,
		Ready:   v.Settled(),
		Message: v.Message(),
		Culture: p.localizer.Culture(),
		Key:     p.key,
	}

	if v.State == Loaded {
		var buf bytes.Buffer
		err := widget.Render(&buf, widget.Props{
			Events:         v.Events,
			View:           widget.ViewWeek,
			StartAccessor:  widget.StartAccessor,
			EndAccessor:    widget.EndAccessor,
			EventComponent: p.event,
			Localizer:      p.localizer,
			Date:           date,
			Location:       p.loc,
			Now:            p.now,
			Link:           p.link,
		})
		if err != nil {
			return err
		}
		data.Calendar = template.HTML(buf.String())
	}

	return pageTmpl.Execute(w, data)
}

func (p *Presenter) link(d time.Time) string {
	q := url.Values{}
	q.Set("date", p.localizer.Format(d, locale.FormatDate))
	return "/?" + q.Encode()
}
