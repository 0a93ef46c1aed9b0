package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"weekcal/internal/config"
	appLog "weekcal/internal/log"
	"weekcal/internal/presenter"
	"weekcal/internal/query"
)

// Server serves the calendar page, its JSON API and the state websocket.
type Server struct {
	cfg    *config.Config
	pres   *presenter.Presenter
	client *query.Client
	hub    *Hub
	router *mux.Router
}

// NewServer wires the routes. The query client is the one the presenter
// reads from; its state changes are pushed to websocket clients once Run
// is called on the hub.
func NewServer(cfg *config.Config, pres *presenter.Presenter, client *query.Client) *Server {
	s := &Server{
		cfg:    cfg,
		pres:   pres,
		client: client,
		hub:    NewHub(),
		router: mux.NewRouter(),
	}
	s.hub.SetSnapshot(func() []query.State {
		if st, ok := client.Peek(pres.Key()); ok {
			return []query.State{st}
		}
		return nil
	})
	s.registerRoutes()
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root handler, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(Logging)
	r.Use(ErrorRecovery)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	r.HandleFunc("/", s.handlePage).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound, "no such resource")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errBadRequest, "method not allowed")
	})
}

// CaptureHandler returns the routes without basic auth, for the headless
// browser of the capture command. Serve it on loopback only.
func (s *Server) CaptureHandler() http.Handler {
	return s.router
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts it
// down gracefully. The hub runs for the lifetime of the server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, s.Handler())
}

// ServeCapture is Serve with CaptureHandler. ln must be a loopback listener.
func (s *Server) ServeCapture(ctx context.Context, ln net.Listener) error {
	if addr, ok := ln.Addr().(*net.TCPAddr); !ok || !addr.IP.IsLoopback() {
		return fmt.Errorf("capture listener %s is not loopback", ln.Addr())
	}
	return s.serve(ctx, ln, s.CaptureHandler())
}

func (s *Server) serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	unsubscribe := s.client.Subscribe(s.hub.BroadcastState)
	defer unsubscribe()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	appLog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// StartServer listens on cfg.Listen and serves until ctx is canceled.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePage renders the calendar page for the week of ?date=YYYY-MM-DD.
// A cold cache renders the Loading state; the page reloads itself when the
// websocket reports the fetch settled.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	date, err := s.pres.WeekDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "date must be YYYY-MM-DD")
		return
	}

	v := s.pres.View()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.pres.Render(w, v, date); err != nil {
		appLog.Error("render page failed", err, "state", v.State)
	}
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	State      presenter.State `json:"state"`
	Events     []eventDTO      `json:"events"`
	Error      string          `json:"error,omitempty"`
	WeekStart  string          `json:"week_start"`
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

type eventDTO struct {
	ID          any       `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description *string   `json:"description,omitempty"`
}

// handleEvents returns the presenter's current view as JSON.
//
// GET /api/events?date=2025-04-28&wait=1
//   - date: any day of the week reported in range_start/range_end
//   - wait: block until the fetch settles
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := s.pres.WeekDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var v presenter.View
	if parseBool(q.Get("wait")) {
		v = s.pres.Await(r.Context())
	} else {
		v = s.pres.View()
	}
	writeJSON(w, http.StatusOK, s.eventsResponse(v, date))
}

// handleRefresh invalidates the cached events and waits for the refetch.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	date, err := s.pres.WeekDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "date must be YYYY-MM-DD")
		return
	}
	appLog.Info("manual refresh requested", "key", s.pres.Key())
	v := s.pres.Refetch(r.Context())
	writeJSON(w, http.StatusOK, s.eventsResponse(v, date))
}

func (s *Server) eventsResponse(v presenter.View, date time.Time) eventsResponse {
	start, end := s.pres.WeekRange(date)
	resp := eventsResponse{
		State:      v.State,
		Events:     make([]eventDTO, 0, len(v.Events)),
		WeekStart:  strings.ToLower(s.pres.Localizer().WeekStart().String()),
		RangeStart: start,
		RangeEnd:   end,
	}
	if v.Err != nil {
		resp.Error = v.Err.Error()
	}
	if !v.UpdatedAt.IsZero() {
		t := v.UpdatedAt
		resp.UpdatedAt = &t
	}
	for _, ev := range v.Events {
		resp.Events = append(resp.Events, eventDTO{
			ID:          ev.ID,
			Title:       ev.Title,
			Start:       ev.Start,
			End:         ev.End,
			Description: ev.Description,
		})
	}
	return resp
}

// handlePreview serves the last captured PNG from capture.output.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile answers 404 for a missing file.
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
