package events

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Listener is the notification and background-job consumer of task events.
// Notifications and availability refreshes are written to the log.
type Listener struct {
	log logrus.FieldLogger
}

func NewListener(log logrus.FieldLogger) *Listener {
	return &Listener{log: log.WithField("component", "task-listener")}
}

// Register subscribes the listener to every task event on b.
func (l *Listener) Register(b *Bus) {
	b.Subscribe(TypeTaskCreated, l.Handle)
	b.Subscribe(TypeTaskUpdated, l.Handle)
	b.Subscribe(TypeTaskReassigned, l.Handle)
}

func (l *Listener) Handle(_ context.Context, env Envelope) error {
	entry := l.log.WithFields(logrus.Fields{"event_id": env.ID, "event_type": env.Type})

	switch e := env.Payload.(type) {
	case TaskCreated:
		entry.WithField("user_id", e.UserID).
			Infof("[NOTIFICATION] Task %q created for user %d", e.Title, e.UserID)
	case TaskUpdated:
		entry.WithField("user_id", e.UserID).
			Infof("[NOTIFICATION] Task %q updated for user %d", e.Title, e.UserID)
	case TaskReassigned:
		entry.WithFields(logrus.Fields{"old_user_id": e.OldUserID, "new_user_id": e.NewUserID}).
			Infof("[NOTIFICATION] Task %q reassigned from user %d to user %d", e.Title, e.OldUserID, e.NewUserID)
	default:
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	for _, userID := range env.Payload.UserIDs() {
		entry.WithField("user_id", userID).
			Infof("[BACKGROUND JOB] Updating availability for user %d", userID)
	}
	return nil
}
