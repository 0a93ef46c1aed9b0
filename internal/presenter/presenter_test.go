package presenter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"weekcal/internal/model"
	"weekcal/internal/query"
	"weekcal/internal/source"
)

var plus2 = time.FixedZone("UTC+2", 2*60*60)

// gatedSource blocks every fetch until release is closed.
type gatedSource struct {
	release chan struct{}
	events  []model.RawEvent
	err     error
}

func (g *gatedSource) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.events, g.err
}

func newClient(t *testing.T) *query.Client {
	t.Helper()
	c := query.NewClient(query.Options{})
	t.Cleanup(c.Close)
	return c
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, source.NewMock(0, time.UTC)); err == nil {
		t.Error("expected error without client")
	}
	if _, err := New(newClient(t), nil); err == nil {
		t.Error("expected error without source")
	}
}

func TestLoadingWhileUnresolved(t *testing.T) {
	src := &gatedSource{release: make(chan struct{})}
	p, err := New(newClient(t), src)
	if err != nil {
		t.Fatal(err)
	}
	defer close(src.release)

	v := p.View()
	if v.State != Loading {
		t.Fatalf("state = %s, want loading", v.State)
	}
	if len(v.Events) != 0 {
		t.Errorf("loading view has events: %+v", v.Events)
	}
	if v.Message() != "Loading events..." {
		t.Errorf("message = %q", v.Message())
	}
	if v.Settled() {
		t.Error("loading view reported settled")
	}
}

func TestLoadedStubEvents(t *testing.T) {
	p, err := New(newClient(t), source.NewMock(10*time.Millisecond, plus2), WithLocation(plus2))
	if err != nil {
		t.Fatal(err)
	}

	v := p.Await(awaitCtx(t))
	if v.State != Loaded {
		t.Fatalf("state = %s (err %v), want loaded", v.State, v.Err)
	}
	want := []string{"Team Meeting", "Project Deadline", "Client Presentation"}
	if len(v.Events) != len(want) {
		t.Fatalf("got %d events, want %d", len(v.Events), len(want))
	}
	for i, title := range want {
		if v.Events[i].Title != title {
			t.Errorf("event %d title = %q, want %q", i, v.Events[i].Title, title)
		}
	}
	first := v.Events[0]
	if !first.Start.Equal(time.Date(2025, time.April, 28, 10, 0, 0, 0, plus2)) {
		t.Errorf("first start = %v", first.Start)
	}
	if first.Description == nil || *first.Description != "Discuss Q2 strategy" {
		t.Errorf("first description = %v", first.Description)
	}

	// A later read is served from the cache.
	if again := p.View(); again.State != Loaded || len(again.Events) != 3 {
		t.Errorf("cached view = %+v", again)
	}
}

func TestErroredOnSourceFailure(t *testing.T) {
	p, err := New(newClient(t), source.NewMock(0, time.UTC).FailingWith("Network error"))
	if err != nil {
		t.Fatal(err)
	}

	v := p.Await(awaitCtx(t))
	if v.State != Errored {
		t.Fatalf("state = %s, want errored", v.State)
	}
	if !strings.Contains(v.Message(), "Network error") {
		t.Errorf("message = %q", v.Message())
	}
	if len(v.Events) != 0 {
		t.Error("errored view has events")
	}
	var fe *source.FetchError
	if !errors.As(v.Err, &fe) || fe.Source != "mock" {
		t.Errorf("err = %#v, want mock FetchError", v.Err)
	}
}

func TestErroredOnMalformedTimestamp(t *testing.T) {
	src := &gatedSource{release: make(chan struct{}), events: []model.RawEvent{
		{ID: 1, Title: "Broken", Start: "yesterday", End: "2025-04-28T11:00:00Z"},
	}}
	close(src.release)
	p, err := New(newClient(t), src)
	if err != nil {
		t.Fatal(err)
	}

	v := p.Await(awaitCtx(t))
	if v.State != Errored {
		t.Fatalf("state = %s, want errored", v.State)
	}
	var fe *source.FetchError
	if !errors.As(v.Err, &fe) || fe.Source != "transform" {
		t.Errorf("err = %#v, want transform FetchError", v.Err)
	}
}

func TestRefetchPicksUpNewData(t *testing.T) {
	src := &gatedSource{release: make(chan struct{})}
	close(src.release)
	p, err := New(newClient(t), src)
	if err != nil {
		t.Fatal(err)
	}

	if v := p.Await(awaitCtx(t)); v.State != Loaded || len(v.Events) != 0 {
		t.Fatalf("first view = %+v", v)
	}
	src.events = []model.RawEvent{{ID: 7, Title: "Added", Start: "2025-04-28T10:00:00Z", End: "2025-04-28T11:00:00Z"}}
	v := p.Refetch(awaitCtx(t))
	if v.State != Loaded || len(v.Events) != 1 || v.Events[0].Title != "Added" {
		t.Errorf("refetched view = %+v", v)
	}
}

func TestWeekDate(t *testing.T) {
	now := time.Date(2025, time.June, 11, 15, 0, 0, 0, time.UTC)
	p, err := New(newClient(t), source.NewMock(0, time.UTC), WithLocation(time.UTC), WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	d, err := p.WeekDate("")
	if err != nil || !d.Equal(now) {
		t.Errorf("empty param = %v, %v; want now", d, err)
	}
	d, err = p.WeekDate("2025-04-30")
	if err != nil || !d.Equal(time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parsed = %v, %v", d, err)
	}
	if _, err := p.WeekDate("30/04/2025"); err == nil {
		t.Error("expected error for malformed date")
	}

	start, end := p.WeekRange(d)
	if !start.Equal(time.Date(2025, time.April, 27, 0, 0, 0, 0, time.UTC)) || !end.Equal(start.AddDate(0, 0, 7)) {
		t.Errorf("week range = %v .. %v", start, end)
	}

	initial := time.Date(2025, time.April, 28, 0, 0, 0, 0, time.UTC)
	p2, _ := New(newClient(t), source.NewMock(0, time.UTC), WithLocation(time.UTC), WithInitialDate(initial))
	if d, _ := p2.WeekDate(""); !d.Equal(initial) {
		t.Errorf("initial date = %v", d)
	}
}

func TestRenderStates(t *testing.T) {
	p, err := New(newClient(t), source.NewMock(0, time.UTC), WithLocation(time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	date := time.Date(2025, time.April, 28, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		view    View
		want    []string
		notWant []string
	}{
		{
			name:    "loading",
			view:    View{State: Loading},
			want:    []string{`data-state="loading"`, "Loading events..."},
			notWant: []string{`data-ready="true"`, "rbc-calendar"},
		},
		{
			name:    "errored",
			view:    View{State: Errored, Err: errors.New("Network error")},
			want:    []string{`data-state="errored"`, `data-ready="true"`, "Error loading events: Network error"},
			notWant: []string{"rbc-calendar"},
		},
		{
			name: "loaded",
			view: View{State: Loaded, Events: []model.DisplayEvent{{
				ID:    1,
				Title: "Team Meeting",
				Start: time.Date(2025, time.April, 28, 10, 0, 0, 0, time.UTC),
				End:   time.Date(2025, time.April, 28, 11, 0, 0, 0, time.UTC),
			}}},
			want:    []string{`data-state="loaded"`, `data-ready="true"`, "rbc-calendar", "Team Meeting", `href="/?date=2025-05-04"`},
			notWant: []string{"Loading events..."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			if err := p.Render(&sb, tt.view, date); err != nil {
				t.Fatalf("Render: %v", err)
			}
			out := sb.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output unexpectedly contains %q", s)
				}
			}
		})
	}
}
