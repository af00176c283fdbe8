package reconcile

import (
	"context"
	"time"

	"sleepcal/internal/calstore"
	appLog "sleepcal/internal/log"
)

// Purge deletes events created by this package in [from, to). Other events
// are left alone. It returns the number of deleted events; individual delete
// failures are logged and skipped.
func Purge(ctx context.Context, store calstore.EventStore, calendarID string, from, to time.Time) (int, error) {
	events, err := store.ListEvents(ctx, calendarID, from, to)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, ev := range events {
		if !IsManagedEvent(ev) {
			continue
		}
		if err := store.DeleteEvent(ctx, calendarID, ev.ID); err != nil {
			appLog.Error("purge delete failed", err, "event_id", ev.ID, "summary", ev.Summary)
			continue
		}
		deleted++
	}
	appLog.Info("purge completed", "calendar_id", calendarID, "deleted", deleted, "listed", len(events))
	return deleted, nil
}
