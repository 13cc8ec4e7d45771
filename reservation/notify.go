package reservation

import "context"

// Event names a notification sent after a committed transition.
type Event string

const (
	EventCreated   Event = "reservation.created"
	EventApproved  Event = "reservation.approved"
	EventRejected  Event = "reservation.rejected"
	EventCancelled Event = "reservation.cancelled"
)

// Notifier delivers best-effort notifications. It is always called after
// commit and outside the facility lock; an error is logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event, payload map[string]any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, event Event, payload map[string]any) error

func (f NotifierFunc) Notify(ctx context.Context, userID string, event Event, payload map[string]any) error {
	return f(ctx, userID, event, payload)
}

func notificationPayload(r Reservation) map[string]any {
	payload := map[string]any{
		"reservation_id": string(r.ID),
		"facility_id":    string(r.FacilityID),
		"user_id":        r.UserID,
		"start":          r.Start,
		"end":            r.End,
		"status":         string(r.Status),
		"purpose":        r.Purpose,
	}
	if r.RejectReason != nil {
		payload["reason"] = *r.RejectReason
	}
	if r.CancelReason != nil {
		payload["reason"] = *r.CancelReason
	}
	if r.AdminNote != nil {
		payload["admin_note"] = *r.AdminNote
	}
	return payload
}
