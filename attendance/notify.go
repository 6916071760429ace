package attendance

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notification is one message for one employee.
type Notification struct {
	OrgID     OrgID
	AccountID AccountID
	Message   string
}

// Notifier delivers a batch of notifications. Delivery is fire-and-forget
// from the engine's point of view.
type Notifier interface {
	Notify(ctx context.Context, batch []Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, batch []Notification) error

func (f NotifierFunc) Notify(ctx context.Context, batch []Notification) error { return f(ctx, batch) }

// ReminderMessage is the pre-shift reminder text.
func ReminderMessage(start ClockTime) string {
	return fmt.Sprintf("Reminder: Please check in. Your office hours start at %s.", start)
}

// LogNotifier writes notifications to the log. Used when no delivery channel
// is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, batch []Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, msg := range batch {
		logger.Info("notification",
			zap.String("org_id", string(msg.OrgID)),
			zap.String("account_id", string(msg.AccountID)),
			zap.String("message", msg.Message))
	}
	return nil
}
