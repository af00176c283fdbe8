package calstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"sleepcal/internal/model"
)

type memCalendar struct {
	name   string
	acl    []ACLRule
	events []model.StoredEvent
}

// Memory is a Store kept in process memory. It is used by tests and by the
// "memory" backend for dry runs.
type Memory struct {
	mu        sync.Mutex
	calendars map[string]*memCalendar
	order     []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{calendars: make(map[string]*memCalendar)}
}

func (m *Memory) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list events", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cal, ok := m.calendars[calendarID]
	if !ok {
		return nil, Wrap("list events", ErrNotFound)
	}
	var out []model.StoredEvent
	for _, ev := range cal.events {
		if ev.Overlaps(timeMin, timeMax) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Wrap("insert event", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cal, ok := m.calendars[calendarID]
	if !ok {
		return "", Wrap("insert event", ErrNotFound)
	}
	id := uuid.NewString()
	cal.events = append(cal.events, model.StoredEvent{
		ID:          id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	})
	return id, nil
}

func (m *Memory) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("delete event", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cal, ok := m.calendars[calendarID]
	if !ok {
		return Wrap("delete event", ErrNotFound)
	}
	i := slices.IndexFunc(cal.events, func(e model.StoredEvent) bool { return e.ID == eventID })
	if i < 0 {
		return Wrap("delete event", ErrNotFound)
	}
	cal.events = slices.Delete(cal.events, i, i+1)
	return nil
}

func (m *Memory) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list calendars", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Calendar, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, model.Calendar{ID: id, Name: m.calendars[id].name})
	}
	return out, nil
}

func (m *Memory) GetOrCreateCalendar(ctx context.Context, name, ownerEmail string) (string, error) {
	cals, err := m.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := FindCalendar(cals, name); ok {
		return id, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	cal := &memCalendar{name: name, acl: []ACLRule{PublicReader()}}
	if ownerEmail != "" {
		cal.acl = append(cal.acl, OwnerWriter(ownerEmail))
	}
	m.calendars[id] = cal
	m.order = append(m.order, id)
	return id, nil
}

// Events returns a copy of every event in a calendar.
func (m *Memory) Events(calendarID string) []model.StoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cal, ok := m.calendars[calendarID]; ok {
		return slices.Clone(cal.events)
	}
	return nil
}

// ACL returns the access rules of a calendar.
func (m *Memory) ACL(calendarID string) []ACLRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cal, ok := m.calendars[calendarID]; ok {
		return slices.Clone(cal.acl)
	}
	return nil
}
