// Package google is a calendar store backed by the Google Calendar v3 API,
// authenticated as a service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"sleepcal/internal/calstore"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

const maxResults = 2500

// Store talks to Google Calendar.
type Store struct {
	svc      *calendar.Service
	endpoint string
	timeZone string
	loc      *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithBaseURL points the store at another Calendar API endpoint (for
// testing).
func WithBaseURL(baseURL string) Option {
	return func(s *Store) {
		s.endpoint = strings.TrimRight(baseURL, "/") + "/"
	}
}

// WithLocation sets the zone new calendars are created in and listed
// events are returned in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
			s.timeZone = loc.String()
		}
	}
}

// New creates a Store sending requests through client, which must already
// authorize them (see Credentials.HTTPClient).
func New(ctx context.Context, client *http.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: google: no http client", calstore.ErrConfiguration)
	}
	s := &Store{
		timeZone: "UTC",
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(s.endpoint))
	}
	svc, err := calendar.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", calstore.ErrConfiguration, err)
	}
	s.svc = svc
	return s, nil
}

// EmbedURL is the browser link for a public calendar.
func EmbedURL(calendarID string) string {
	return "https://calendar.google.com/calendar/embed?src=" + url.QueryEscape(calendarID)
}

// ICalURL is the public iCal feed of a calendar.
func ICalURL(calendarID string) string {
	return "https://calendar.google.com/calendar/ical/" + url.PathEscape(calendarID) + "/public/basic.ics"
}

// CalendarURL implements the optional URL lookup used by the pipeline.
func (s *Store) CalendarURL(calendarID string) string {
	return EmbedURL(calendarID)
}

// classify marks missing resources so callers can test for
// calstore.ErrNotFound.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %w", calstore.ErrNotFound, err)
	}
	return err
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.StoredEvent, error) {
	var out []model.StoredEvent
	err := s.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResults).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item.Status == "cancelled" {
					continue
				}
				ev, err := s.toStored(item)
				if err != nil {
					appLog.Warn("google: event with unreadable times skipped", "event_id", item.Id, "reason", err.Error())
					continue
				}
				out = append(out, ev)
			}
			return nil
		})
	if err != nil {
		return nil, calstore.Wrap("list events", classify(err))
	}
	return out, nil
}

func (s *Store) toStored(item *calendar.Event) (model.StoredEvent, error) {
	start, err := s.parseTime(item.Start)
	if err != nil {
		return model.StoredEvent{}, err
	}
	end, err := s.parseTime(item.End)
	if err != nil {
		return model.StoredEvent{}, err
	}
	return model.StoredEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}, nil
}

// parseTime reads a timed or all-day event boundary.
func (s *Store) parseTime(et *calendar.EventDateTime) (time.Time, error) {
	if et == nil {
		return time.Time{}, errors.New("missing time")
	}
	if et.DateTime != "" {
		t, err := time.Parse(time.RFC3339, et.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(s.loc), nil
	}
	return time.ParseInLocation(time.DateOnly, et.Date, s.loc)
}

func (s *Store) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	tz := ev.TimeZone
	if tz == "" {
		tz = s.timeZone
	}
	created, err := s.svc.Events.Insert(calendarID, &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
	}).Context(ctx).Do()
	if err != nil {
		return "", calstore.Wrap("insert event", classify(err))
	}
	return created.Id, nil
}

func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := s.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	return calstore.Wrap("delete event", classify(err))
}

func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	var out []model.Calendar
	err := s.svc.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			out = append(out, model.Calendar{ID: item.Id, Name: item.Summary})
		}
		return nil
	})
	if err != nil {
		return nil, calstore.Wrap("list calendars", classify(err))
	}
	return out, nil
}

func (s *Store) GetOrCreateCalendar(ctx context.Context, name, ownerEmail string) (string, error) {
	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := calstore.FindCalendar(cals, name); ok {
		return id, nil
	}

	created, err := s.svc.Calendars.Insert(&calendar.Calendar{Summary: name, TimeZone: s.timeZone}).Context(ctx).Do()
	if err != nil {
		return "", calstore.Wrap("create calendar", classify(err))
	}
	appLog.Info("google: calendar created", "id", created.Id, "name", name)

	if err := s.insertACL(ctx, created.Id, calstore.PublicReader()); err != nil {
		return "", calstore.Wrap("share calendar", err)
	}
	if ownerEmail != "" {
		if err := s.insertACL(ctx, created.Id, calstore.OwnerWriter(ownerEmail)); err != nil {
			appLog.Error("google: could not share calendar with owner", err, "calendar_id", created.Id, "email", ownerEmail)
		}
	}
	return created.Id, nil
}

func (s *Store) insertACL(ctx context.Context, calendarID string, r calstore.ACLRule) error {
	_, err := s.svc.Acl.Insert(calendarID, &calendar.AclRule{
		Role:  r.Role,
		Scope: &calendar.AclRuleScope{Type: r.ScopeType, Value: r.ScopeValue},
	}).Context(ctx).Do()
	return classify(err)
}
