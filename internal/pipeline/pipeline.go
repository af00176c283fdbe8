// Package pipeline wires normalization, segmentation, synthesis and
// reconciliation into one sync call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"sleepcal/internal/calstore"
	"sleepcal/internal/health"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
	"sleepcal/internal/reconcile"
	"sleepcal/internal/sleep"
)

// DefaultLookbackDays applies when a request does not set one.
const DefaultLookbackDays = 30

// DefaultCalendarName is used when neither a name nor an email is given.
const DefaultCalendarName = "Sleep Data"

// ErrConfiguration is returned before any store call when the syncer or the
// request cannot work.
var ErrConfiguration = calstore.ErrConfiguration

// CalendarURLer is implemented by stores that can link to a calendar.
type CalendarURLer interface {
	CalendarURL(calendarID string) string
}

// Request is one sync invocation.
type Request struct {
	Samples []model.RawSample
	// Email selects the per-user calendar and is granted write access when
	// the calendar is created.
	Email string
	// CalendarName overrides the name derived from Email.
	CalendarName string
	// LookbackDays <= 0 means the syncer default.
	LookbackDays int
}

// Result summarizes a sync.
type Result struct {
	CalendarID      string
	CalendarURL     string
	Created         int
	Duplicates      int
	Failed          int
	SkippedSamples  int
	SkippedSessions int
}

// Syncer runs the pipeline against one store.
type Syncer struct {
	store    calstore.Store
	loc      *time.Location
	now      func() time.Time
	lookback int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLocation sets the zone samples are normalized into and events are
// written in.
func WithLocation(loc *time.Location) Option {
	return func(s *Syncer) {
		s.loc = loc
	}
}

// WithClock sets the clock used for the lookback cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLookbackDays sets the default lookback.
func WithLookbackDays(days int) Option {
	return func(s *Syncer) {
		s.lookback = days
	}
}

// New returns a Syncer for store.
func New(store calstore.Store, opts ...Option) *Syncer {
	s := &Syncer{
		store:    store,
		loc:      time.UTC,
		now:      time.Now,
		lookback: DefaultLookbackDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalendarName is the destination name for a request.
func CalendarName(req Request) string {
	if name := strings.TrimSpace(req.CalendarName); name != "" {
		return name
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		return DefaultCalendarName + " - " + email
	}
	return DefaultCalendarName
}

// ValidateEmail accepts a bare address such as "a@b.c".
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return err
	}
	if addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%q is not a bare address", email)
	}
	return nil
}

func (s *Syncer) validate(req Request) error {
	if s.store == nil {
		return fmt.Errorf("%w: no calendar store", ErrConfiguration)
	}
	if s.loc == nil {
		return fmt.Errorf("%w: no time zone", ErrConfiguration)
	}
	if req.LookbackDays < 0 {
		return fmt.Errorf("%w: negative lookback %d", ErrConfiguration, req.LookbackDays)
	}
	if req.Email != "" {
		if err := ValidateEmail(req.Email); err != nil {
			return fmt.Errorf("%w: invalid email: %v", ErrConfiguration, err)
		}
	}
	return nil
}

// Sync normalizes req.Samples, groups them into nights and writes the
// missing events. Only configuration problems and a failure to resolve the
// destination calendar are returned as errors; per-sample, per-session and
// per-event problems are counted in the Result.
func (s *Syncer) Sync(ctx context.Context, req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	lookback := req.LookbackDays
	if lookback == 0 {
		lookback = s.lookback
	}
	name := CalendarName(req)

	calID, err := s.store.GetOrCreateCalendar(ctx, name, req.Email)
	if err != nil {
		return Result{}, fmt.Errorf("resolve calendar %q: %w", name, err)
	}
	res := Result{CalendarID: calID}
	if u, ok := s.store.(CalendarURLer); ok {
		res.CalendarURL = u.CalendarURL(calID)
	}

	intervals, skipped := health.NormalizeAll(req.Samples, s.loc)
	res.SkippedSamples = skipped

	opts := sleep.SynthOptions{
		Now:      s.now(),
		Lookback: time.Duration(lookback) * 24 * time.Hour,
	}
	var candidates []model.Candidate
	for _, session := range sleep.Segment(intervals) {
		plan, reason := sleep.Synthesize(session, opts)
		if reason != sleep.NotSkipped {
			res.SkippedSessions++
			appLog.Debug("session skipped", "reason", reason, "start", session.Start.Format(time.RFC3339))
			continue
		}
		candidates = append(candidates, plan.Candidates()...)
	}

	rep := reconcile.New(s.store, calID, s.loc.String()).Apply(ctx, candidates)
	res.Created = rep.Created()
	res.Duplicates = rep.Count(reconcile.Duplicate)
	res.Failed = rep.Count(reconcile.Failed)

	appLog.Info("sync finished",
		"calendar", name,
		"calendar_id", calID,
		"samples", len(req.Samples),
		"skipped_samples", res.SkippedSamples,
		"skipped_sessions", res.SkippedSessions,
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
	)
	return res, nil
}

// IsConfigurationError reports whether err came from bad setup or input
// rather than a store failure.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
