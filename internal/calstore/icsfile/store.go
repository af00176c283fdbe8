// Package icsfile stores calendars as .ics files in a directory, one file
// per calendar. The files double as subscribable feeds.
package icsfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"sleepcal/internal/calstore"
	"sleepcal/internal/ics"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

const (
	propACL = "X-SLEEPCAL-ACL"
	ext     = ".ics"
)

// Store keeps each calendar in <dir>/<id>.ics.
type Store struct {
	dir string
	loc *time.Location
	now func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the zone listed events are returned in and the
// calendar's X-WR-TIMEZONE.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the DTSTAMP clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("icsfile: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("icsfile: create dir: %w", err)
	}
	s := &Store{dir: dir, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path(calendarID string) (string, error) {
	if calendarID == "" || strings.ContainsAny(calendarID, `/\`) || strings.HasPrefix(calendarID, ".") {
		return "", fmt.Errorf("invalid calendar id %q: %w", calendarID, calstore.ErrNotFound)
	}
	return filepath.Join(s.dir, calendarID+ext), nil
}

func (s *Store) load(calendarID string) (*ical.Calendar, error) {
	p, err := s.path(calendarID)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, calstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ical.ParseCalendar(bytes.NewReader(body))
}

// save writes the calendar atomically. Calendars are world readable since
// they are published as feeds.
func (s *Store) save(calendarID string, cal *ical.Calendar) error {
	p, err := s.path(calendarID)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(cal.Serialize()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, calstore.Wrap("list events", err)
	}
	s.mu.Lock()
	cal, err := s.load(calendarID)
	s.mu.Unlock()
	if err != nil {
		return nil, calstore.Wrap("list events", err)
	}

	res, err := ics.Expand(ics.Events(calendarID, cal), ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      timeMin,
		RangeEnd:        timeMax,
	})
	if err != nil {
		return nil, calstore.Wrap("list events", err)
	}
	return res.Occurrences, nil
}

func (s *Store) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", calstore.Wrap("insert event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return "", calstore.Wrap("insert event", err)
	}

	id := uuid.NewString() + "@sleepcal"
	ve := cal.AddEvent(id)
	ve.SetDtStampTime(s.now())
	ve.SetSummary(ev.Summary)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	ve.SetStartAt(ev.Start)
	ve.SetEndAt(ev.End)

	if err := s.save(calendarID, cal); err != nil {
		return "", calstore.Wrap("insert event", err)
	}
	return id, nil
}

func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := ctx.Err(); err != nil {
		return calstore.Wrap("delete event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return calstore.Wrap("delete event", err)
	}
	before := len(cal.Events())
	cal.RemoveEvent(eventID)
	if len(cal.Events()) == before {
		return calstore.Wrap("delete event", calstore.ErrNotFound)
	}
	return calstore.Wrap("delete event", s.save(calendarID, cal))
}

func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, calstore.Wrap("list calendars", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cals, err := s.listLocked()
	return cals, calstore.Wrap("list calendars", err)
}

func (s *Store) listLocked() ([]model.Calendar, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []model.Calendar
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		cal, err := s.load(id)
		if err != nil {
			appLog.Error("icsfile: unreadable calendar skipped", err, "id", id)
			continue
		}
		out = append(out, model.Calendar{ID: id, Name: calendarName(cal)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetOrCreateCalendar(ctx context.Context, name, ownerEmail string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", calstore.Wrap("get or create calendar", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cals, err := s.listLocked()
	if err != nil {
		return "", calstore.Wrap("list calendars", err)
	}
	if id, ok := calstore.FindCalendar(cals, name); ok {
		return id, nil
	}

	id := uuid.NewString()
	cal := ical.NewCalendarFor("sleepcal")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(s.loc.String())
	addACL(cal, calstore.PublicReader())
	if ownerEmail != "" {
		addACL(cal, calstore.OwnerWriter(ownerEmail))
	}
	if err := s.save(id, cal); err != nil {
		return "", calstore.Wrap("create calendar", err)
	}
	appLog.Info("icsfile: calendar created", "id", id, "name", name)
	return id, nil
}

// Feed returns the raw .ics body of a calendar.
func (s *Store) Feed(ctx context.Context, calendarID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(calendarID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, calstore.ErrNotFound
	}
	return body, err
}

// ACL returns the access rules recorded in a calendar file.
func (s *Store) ACL(calendarID string) ([]calstore.ACLRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, err := s.load(calendarID)
	if err != nil {
		return nil, err
	}
	var out []calstore.ACLRule
	for _, p := range cal.CalendarProperties {
		if p.IANAToken != propACL {
			continue
		}
		f := strings.Fields(p.Value)
		if len(f) < 2 {
			continue
		}
		r := calstore.ACLRule{Role: f[0], ScopeType: f[1]}
		if len(f) > 2 {
			r.ScopeValue = f[2]
		}
		out = append(out, r)
	}
	return out, nil
}

func addACL(cal *ical.Calendar, r calstore.ACLRule) {
	v := strings.TrimSpace(r.Role + " " + r.ScopeType + " " + r.ScopeValue)
	cal.CalendarProperties = append(cal.CalendarProperties, ical.CalendarProperty{
		BaseProperty: ical.BaseProperty{
			IANAToken:      propACL,
			ICalParameters: map[string][]string{},
			Value:          v,
		},
	})
}

func calendarName(cal *ical.Calendar) string {
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == string(ical.PropertyXWRCalName) {
			return p.Value
		}
	}
	return ""
}
