// Package schedule polls configured exports on a cron schedule and syncs
// the ones that changed.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"sleepcal/internal/config"
	"sleepcal/internal/health"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/pipeline"
)

// Syncer runs one sync request.
type Syncer interface {
	Sync(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Fetcher loads one export source. Commit is called only after the fetched
// body was synced.
type Fetcher interface {
	Fetch(ctx context.Context, src health.Source) (health.FetchResult, error)
	Commit(res health.FetchResult) error
}

// Scheduler owns the cron loop.
type Scheduler struct {
	spec     string
	loc      *time.Location
	sources  []config.SourceConfig
	calendar config.CalendarConfig
	timeout  time.Duration
	fetcher  Fetcher
	syncer   Syncer
}

// New builds a Scheduler from cfg.
func New(cfg *config.Config, fetcher Fetcher, syncer Syncer) *Scheduler {
	return &Scheduler{
		spec:     cfg.RefreshCron,
		loc:      cfg.Location(),
		sources:  cfg.Sources,
		calendar: cfg.Calendar,
		timeout:  cfg.SyncTimeout,
		fetcher:  fetcher,
		syncer:   syncer,
	}
}

// SourceReport is the outcome of one source in a run.
type SourceReport struct {
	ID        string
	Unchanged bool
	Result    pipeline.Result
	Err       error
}

// RunOnce fetches and syncs every source in order. Failures are logged and
// reported per source; the returned error joins them.
func (s *Scheduler) RunOnce(ctx context.Context) ([]SourceReport, error) {
	reports := make([]SourceReport, 0, len(s.sources))
	var errs []error
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep := s.runSource(ctx, src)
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, rep.Err))
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

func (s *Scheduler) runSource(ctx context.Context, src config.SourceConfig) SourceReport {
	rep := SourceReport{ID: src.ID}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	fr, err := s.fetcher.Fetch(ctx, health.Source{ID: src.ID, Location: src.Location})
	if err != nil {
		appLog.Error("export fetch failed", err, "id", src.ID)
		rep.Err = err
		return rep
	}
	if fr.Unchanged {
		appLog.Debug("export unchanged; skipping sync", "id", src.ID)
		rep.Unchanged = true
		return rep
	}

	samples, err := health.ParseExport(src.Location, fr.Body)
	if err != nil {
		appLog.Error("export parse failed", err, "id", src.ID)
		rep.Err = err
		return rep
	}

	res, err := s.syncer.Sync(ctx, pipeline.Request{
		Samples:      samples,
		Email:        s.calendar.EmailFor(src.Email),
		CalendarName: s.calendar.Name,
	})
	if err != nil {
		appLog.Error("scheduled sync failed", err, "id", src.ID)
		rep.Err = err
		return rep
	}
	rep.Result = res

	// A failed commit only means the next tick syncs the same body again.
	if err := s.fetcher.Commit(fr); err != nil {
		appLog.Error("export cache commit failed", err, "id", src.ID)
	}
	return rep
}

// Run starts the cron loop and blocks until ctx is done. Runs never
// overlap; a tick that fires while the previous run is busy is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		appLog.Info("no export sources configured; scheduler idle")
		<-ctx.Done()
		return nil
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Warn("scheduled run finished with errors", "reason", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	appLog.Info("scheduler started", "refresh", s.spec, "sources", len(s.sources))
	c.Start()
	<-ctx.Done()

	// Wait for a running job to notice the cancellation.
	<-c.Stop().Done()
	appLog.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
