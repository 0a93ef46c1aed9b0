// Package refresh refetches the calendar events on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "weekcal/internal/log"
	"weekcal/internal/presenter"
)

// Target is what the scheduler refreshes.
type Target interface {
	Refetch(ctx context.Context) presenter.View
}

// Scheduler runs Target.Refetch on a cron spec. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	target  Target
	spec    string
	timeout time.Duration
	entry   cron.EntryID

	// ctx is canceled by Stop so a run in progress returns early.
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 15m") and returns a stopped scheduler. timeout bounds each run;
// zero means no bound.
func New(spec string, target Target, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		return nil, errors.New("refresh: empty schedule")
	}
	if target == nil {
		return nil, errors.New("refresh: target is required")
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		target:  target,
		spec:    spec,
		timeout: timeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "spec", s.spec, "next", s.Next().Format(time.RFC3339))
}

// Stop cancels a running refresh and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow refreshes immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) presenter.View {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	v := s.target.Refetch(ctx)
	switch v.State {
	case presenter.Errored:
		appLog.Error("scheduled refresh failed", v.Err, "duration", time.Since(start).String())
	default:
		appLog.Info("scheduled refresh done", "state", v.State, "events", len(v.Events), "duration", time.Since(start).String())
	}
	return v
}

func (s *Scheduler) run() {
	s.RunNow(s.ctx)
}

// cronLogger routes cron's internal logging to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
