// Package notify delivers reservation notifications: to the log, over SMTP,
// or to several sinks at once.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/reservation"
)

// Log writes every notification to a zap logger. It is the notifier used
// when mail is disabled.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, userID string, event reservation.Event, payload map[string]any) error {
	l.logger.Info("notification",
		zap.String("user_id", userID),
		zap.String("event", string(event)),
		zap.Any("payload", payload))
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []reservation.Notifier

func (m Multi) Notify(ctx context.Context, userID string, event reservation.Event, payload map[string]any) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
