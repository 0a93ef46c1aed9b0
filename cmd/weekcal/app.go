package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"weekcal/internal/capture"
	"weekcal/internal/config"
	"weekcal/internal/locale"
	appLog "weekcal/internal/log"
	"weekcal/internal/presenter"
	"weekcal/internal/query"
	"weekcal/internal/refresh"
	"weekcal/internal/source"
	"weekcal/internal/web"
)

// app holds the wired components for one run.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	client *query.Client
	pres   *presenter.Presenter
	server *web.Server
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc := cfg.Location()
	l, err := locale.NewLocalizer(locale.DefaultTable(), cfg.Locale)
	if err != nil {
		return nil, err
	}
	switch cfg.WeekStart {
	case "sunday":
		l = l.WithWeekStart(time.Sunday)
	case "monday":
		l = l.WithWeekStart(time.Monday)
	}

	src, err := source.New(ctx, cfg.Source, loc)
	if err != nil {
		return nil, fmt.Errorf("build %s source: %w", cfg.Source.Kind, err)
	}

	client := query.NewClient(query.Options{
		StaleTime:    time.Duration(cfg.Query.StaleSeconds) * time.Second,
		FetchTimeout: time.Duration(cfg.Query.FetchTimeoutSeconds) * time.Second,
	})

	opts := []presenter.Option{
		presenter.WithLocalizer(l),
		presenter.WithLocation(loc),
	}
	if d, ok := cfg.InitialDay(loc); ok {
		opts = append(opts, presenter.WithInitialDate(d))
	}
	pres, err := presenter.New(client, src, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}

	appLog.Info("effective config",
		"config_path", configPath,
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"locale", l.Culture(),
		"week_start", l.WeekStart().String(),
		"initial_date", cfg.InitialDate,
		"source", cfg.Source.Kind,
		"refresh", cfg.Refresh,
	)

	return &app{
		cfg:    cfg,
		loc:    loc,
		client: client,
		pres:   pres,
		server: web.NewServer(cfg, pres, client),
	}, nil
}

func (a *app) close() {
	a.client.Close()
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	if listen := cmd.String("listen"); listen != "" {
		a.cfg.Listen = listen
	}

	if a.cfg.Refresh != "" {
		timeout := time.Duration(a.cfg.Query.FetchTimeoutSeconds) * time.Second
		sched, err := refresh.New(a.cfg.Refresh, a.pres, a.loc, timeout)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// Start the first fetch before any browser asks for the page.
	a.pres.View()

	appLog.Info("weekcal starting", "version", version)
	return web.StartServer(ctx, a.cfg, a.server)
}

// captureURL is the page URL for the week of date on a capture server
// listening at addr.
func captureURL(addr string, date time.Time) string {
	q := url.Values{}
	q.Set("date", date.Format("2006-01-02"))
	return "http://" + addr + "/?" + q.Encode()
}

// runCapture serves the page on an ephemeral loopback port, waits for the
// fetch to settle and screenshots it. The capture server skips basic auth
// since the headless browser has no credentials.
func runCapture(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	date, err := a.pres.WeekDate(cmd.String("date"))
	if err != nil {
		return fmt.Errorf("--date: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	srvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- a.server.ServeCapture(srvCtx, ln)
	}()
	defer func() {
		stop()
		if err := <-done; err != nil {
			appLog.Error("capture server shutdown failed", err)
		}
	}()

	v := a.pres.Await(ctx)
	if !v.Settled() {
		return fmt.Errorf("events did not load: %w", ctx.Err())
	}
	if v.State == presenter.Errored {
		appLog.Error("capturing error page", v.Err)
	}

	opts := capture.FromConfig(a.cfg.Capture, captureURL(ln.Addr().String(), date))
	if out := cmd.String("out"); out != "" {
		opts.OutputPath = out
	}

	start := time.Now()
	if err := capture.PagePNG(ctx, opts); err != nil {
		return err
	}
	appLog.Info("capture written", "path", opts.OutputPath, "state", v.State, "duration", time.Since(start).String())
	return nil
}
