// Package sqlite keeps calendars in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"sleepcal/internal/calstore"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

// Store implements calstore.Store on SQLite. Times are stored as UTC unix
// nanoseconds so window queries are plain integer comparisons.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// Open opens (or creates) the database at dsn and migrates it. loc is the
// zone listed events are returned in; nil means UTC.
func Open(dsn string, loc *time.Location) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer keeps SQLITE_BUSY away and in-memory databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	if loc == nil {
		loc = time.UTC
	}
	s := &Store{db: db, loc: loc}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS calendars (
			calendar_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendars_name ON calendars(name)`,
		`CREATE TABLE IF NOT EXISTS acl (
			calendar_id TEXT NOT NULL,
			role TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_value TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (calendar_id, scope_type, scope_value),
			FOREIGN KEY (calendar_id) REFERENCES calendars(calendar_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			calendar_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			time_zone TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (calendar_id) REFERENCES calendars(calendar_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_window ON events(calendar_id, start_ns, end_ns)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) calendarExists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, calendarID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM calendars WHERE calendar_id = ?`, calendarID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return calstore.ErrNotFound
	}
	return err
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.StoredEvent, error) {
	if err := s.calendarExists(ctx, s.db, calendarID); err != nil {
		return nil, calstore.Wrap("list events", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, summary, description, start_ns, end_ns
		FROM events
		WHERE calendar_id = ? AND end_ns > ? AND start_ns < ?
		ORDER BY start_ns, event_id`,
		calendarID, timeMin.UnixNano(), timeMax.UnixNano())
	if err != nil {
		return nil, calstore.Wrap("list events", err)
	}
	defer rows.Close()

	var out []model.StoredEvent
	for rows.Next() {
		var (
			ev           model.StoredEvent
			startNs, end int64
		)
		if err := rows.Scan(&ev.ID, &ev.Summary, &ev.Description, &startNs, &end); err != nil {
			return nil, calstore.Wrap("list events", err)
		}
		ev.Start = time.Unix(0, startNs).In(s.loc)
		ev.End = time.Unix(0, end).In(s.loc)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, calstore.Wrap("list events", err)
	}
	return out, nil
}

func (s *Store) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	if err := s.calendarExists(ctx, s.db, calendarID); err != nil {
		return "", calstore.Wrap("insert event", err)
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, calendar_id, summary, description, start_ns, end_ns, time_zone)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, calendarID, ev.Summary, ev.Description, ev.Start.UnixNano(), ev.End.UnixNano(), ev.TimeZone)
	if err != nil {
		return "", calstore.Wrap("insert event", err)
	}
	return id, nil
}

func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ? AND event_id = ?`, calendarID, eventID)
	if err != nil {
		return calstore.Wrap("delete event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return calstore.Wrap("delete event", err)
	}
	if n == 0 {
		return calstore.Wrap("delete event", calstore.ErrNotFound)
	}
	return nil
}

func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT calendar_id, name FROM calendars ORDER BY created_at, calendar_id`)
	if err != nil {
		return nil, calstore.Wrap("list calendars", err)
	}
	defer rows.Close()

	var out []model.Calendar
	for rows.Next() {
		var c model.Calendar
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, calstore.Wrap("list calendars", err)
		}
		out = append(out, c)
	}
	return out, calstore.Wrap("list calendars", rows.Err())
}

func (s *Store) GetOrCreateCalendar(ctx context.Context, name, ownerEmail string) (string, error) {
	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := calstore.FindCalendar(cals, name); ok {
		return id, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", calstore.Wrap("create calendar", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO calendars (calendar_id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().UnixNano()); err != nil {
		return "", calstore.Wrap("create calendar", err)
	}
	if err := insertACL(ctx, tx, id, calstore.PublicReader()); err != nil {
		return "", calstore.Wrap("create calendar", err)
	}
	if err := tx.Commit(); err != nil {
		return "", calstore.Wrap("create calendar", err)
	}

	if ownerEmail != "" {
		if err := insertACL(ctx, s.db, id, calstore.OwnerWriter(ownerEmail)); err != nil {
			appLog.Error("sqlite: owner grant failed", err, "calendar_id", id, "email", ownerEmail)
		}
	}
	return id, nil
}

// ACL returns the access rules of a calendar.
func (s *Store) ACL(ctx context.Context, calendarID string) ([]calstore.ACLRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, scope_type, scope_value FROM acl WHERE calendar_id = ? ORDER BY rowid`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calstore.ACLRule
	for rows.Next() {
		var r calstore.ACLRule
		if err := rows.Scan(&r.Role, &r.ScopeType, &r.ScopeValue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertACL(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, calendarID string, r calstore.ACLRule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO acl (calendar_id, role, scope_type, scope_value) VALUES (?, ?, ?, ?)
		ON CONFLICT (calendar_id, scope_type, scope_value) DO UPDATE SET role = excluded.role`,
		calendarID, r.Role, r.ScopeType, strings.ToLower(r.ScopeValue))
	return err
}
