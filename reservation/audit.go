package reservation

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// AUDIT LOG - Append-only record of every state transition
// =============================================================================

// AuditSink is the append side of the audit log. Tx satisfies it, so an
// entry commits or rolls back together with the transition it records.
type AuditSink interface {
	AppendLog(ctx context.Context, e LogEntry) error
}

// AuditLog builds and appends log entries and serves history reads.
type AuditLog struct {
	store interface {
		ListLog(ctx context.Context, id ReservationID) ([]LogEntry, error)
	}
	newID func() string
	now   func() time.Time
}

// Append writes one entry through sink.
func (a *AuditLog) Append(ctx context.Context, sink AuditSink, id ReservationID, action Action, actor Actor, detail string) error {
	entry := LogEntry{
		ID:            LogEntryID(a.newID()),
		ReservationID: id,
		Action:        action,
		ActorID:       actor.ID,
		ActorType:     actor.Type,
		Detail:        detail,
		Timestamp:     a.now().UTC(),
	}
	if err := sink.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append %s log for reservation %s: %w", action, id, err)
	}
	return nil
}

// Entries returns the reservation's history, oldest first.
func (a *AuditLog) Entries(ctx context.Context, id ReservationID) ([]LogEntry, error) {
	return a.store.ListLog(ctx, id)
}
