package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"weekcal/internal/config"
	"weekcal/internal/model"
	"weekcal/internal/presenter"
	"weekcal/internal/query"
	"weekcal/internal/source"
)

type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestServer(t *testing.T, cfg *config.Config, src source.EventSource) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	client := query.NewClient(query.Options{})
	t.Cleanup(client.Close)

	initial := time.Date(2025, time.April, 28, 0, 0, 0, 0, time.UTC)
	p, err := presenter.New(client, src, presenter.WithLocation(time.UTC), presenter.WithInitialDate(initial))
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(cfg, p, client)
}

func decodeEvents(t *testing.T, rec *httptest.ResponseRecorder) eventsResponse {
	t.Helper()
	var resp eventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(0, time.UTC))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestEventsWaitReturnsStubEvents(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(5*time.Millisecond, time.UTC))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?wait=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decodeEvents(t, rec)
	if resp.State != presenter.Loaded {
		t.Fatalf("state = %s (error %q)", resp.State, resp.Error)
	}
	if len(resp.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(resp.Events))
	}
	if resp.Events[0].Title != "Team Meeting" || resp.Events[2].Title != "Client Presentation" {
		t.Errorf("events = %+v", resp.Events)
	}
	if resp.WeekStart != "sunday" {
		t.Errorf("week_start = %q", resp.WeekStart)
	}
	if !resp.RangeStart.Equal(time.Date(2025, time.April, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range_start = %v", resp.RangeStart)
	}
}

func TestEventsLoadingWithoutWait(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	defer close(src.release)
	s := newTestServer(t, nil, src)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	resp := decodeEvents(t, rec)
	if resp.State != presenter.Loading || len(resp.Events) != 0 {
		t.Errorf("response = %+v, want loading with no events", resp)
	}
}

func TestEventsError(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(0, time.UTC).FailingWith("Network error"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?wait=true", nil))
	resp := decodeEvents(t, rec)
	if resp.State != presenter.Errored || resp.Error != "Network error" {
		t.Errorf("response = %+v", resp)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(0, time.UTC))
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"bad date", http.MethodGet, "/api/events?date=04/28/2025", http.StatusBadRequest},
		{"bad page date", http.MethodGet, "/?date=tomorrow", http.StatusBadRequest},
		{"refresh needs post", http.MethodGet, "/api/refresh", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var e errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("expected JSON error envelope, got %q", rec.Body.String())
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(0, time.UTC))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEvents(t, rec)
	if resp.State != presenter.Loaded || len(resp.Events) != 3 {
		t.Errorf("response = %+v", resp)
	}
}

func TestPageStates(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	s := newTestServer(t, nil, src)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "Loading events...") {
		t.Errorf("expected loading page, got %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}

	close(src.release)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?wait=1", nil))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?date=2025-04-28", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `data-state="loaded"`) || !strings.Contains(body, "rbc-calendar") {
		t.Errorf("expected loaded page, got %s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s := newTestServer(t, cfg, source.NewMock(0, time.UTC))
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health under auth = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with credentials = %d", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Capture.Output = filepath.Join(dir, "preview.png")
	s := newTestServer(t, cfg, source.NewMock(0, time.UTC))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preview = %d", rec.Code)
	}

	if err := os.WriteFile(cfg.Capture.Output, []byte("\x89PNG\r\n\x1a\nfake"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Errorf("preview = %d", rec.Code)
	}
}

func TestErrorRecovery(t *testing.T) {
	h := ErrorRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil || e.Error != errInternal {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, StatePayload) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw struct {
		Type    string       `json:"type"`
		Payload StatePayload `json:"payload"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	return raw.Type, raw.Payload
}

func TestWebsocketPushesQueryState(t *testing.T) {
	s := newTestServer(t, nil, source.NewMock(0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)
	unsubscribe := s.client.Subscribe(s.Hub().BroadcastState)
	defer unsubscribe()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Settle the query first so the snapshot is deterministic.
	resp, err := http.Get(ts.URL + "/api/events?wait=1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, p := readMessage(t, conn)
	if typ != TypeQuerySnapshot || p.Key != presenter.QueryKey || p.Status != query.StatusSuccess {
		t.Fatalf("snapshot = %s %+v", typ, p)
	}

	resp, err = http.Post(ts.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	for {
		typ, p = readMessage(t, conn)
		if typ != TypeQueryState {
			t.Fatalf("unexpected message type %q", typ)
		}
		if !p.IsFetching {
			break
		}
	}
	if p.Status != query.StatusSuccess {
		t.Errorf("settled status = %s", p.Status)
	}
}

func TestWebsocketSettleDuringConnect(t *testing.T) {
	hub := NewHub()
	fetching := query.State{Key: presenter.QueryKey, Status: query.StatusLoading, IsFetching: true}
	settled := query.State{Key: presenter.QueryKey, Status: query.StatusSuccess, UpdatedAt: time.Now()}
	// The fetch settles right after the snapshot of a connecting client
	// was taken.
	hub.SetSnapshot(func() []query.State {
		hub.BroadcastState(settled)
		return []query.State{fetching}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, p := readMessage(t, conn)
	if typ != TypeQuerySnapshot || !p.IsFetching {
		t.Fatalf("first message = %s %+v, want fetching snapshot", typ, p)
	}
	typ, p = readMessage(t, conn)
	if typ != TypeQueryState || p.IsFetching || p.Status != query.StatusSuccess {
		t.Errorf("second message = %s %+v, want settled state", typ, p)
	}
}

func TestServeCaptureSkipsAuthOnLoopbackOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s := newTestServer(t, cfg, source.NewMock(0, time.UTC))

	rec := httptest.NewRecorder()
	s.CaptureHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?wait=1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("capture handler = %d", rec.Code)
	}

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	defer ln.Close()
	if err := s.ServeCapture(context.Background(), ln); err == nil {
		t.Error("expected error serving capture on a non-loopback listener")
	}
}
