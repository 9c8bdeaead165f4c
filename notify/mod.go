// Package notify defines the notification channel used to report the outcome
// of the operations to the user. Notifications are fire-and-forget: the core
// never consumes a result from the notifier.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a notification.
type Level int

const (
	// Info is a progress message.
	Info Level = iota
	// Success reports that an operation completed.
	Success
	// Error reports that an operation failed.
	Error
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Notifier is the interface to deliver a message to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// Notification is a delivered message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// LogNotifier writes the notifications to a logger.
//
// - implements notify.Notifier
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier that logs every message.
func NewLogNotifier(logger zerolog.Logger) LogNotifier {
	return LogNotifier{
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify implements notify.Notifier.
func (n LogNotifier) Notify(level Level, message string) {
	var evt *zerolog.Event

	switch level {
	case Error:
		evt = n.logger.Warn()
	default:
		evt = n.logger.Info()
	}

	evt.Stringer("level", level).Msg(message)
}

// Inbox keeps the most recent notifications in memory so that a display can
// poll them.
//
// - implements notify.Notifier
type Inbox struct {
	sync.Mutex
	size  int
	items []Notification
	now   func() time.Time
}

// NewInbox returns an inbox keeping at most size notifications.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1
	}

	return &Inbox{
		size: size,
		now:  time.Now,
	}
}

// Notify implements notify.Notifier.
func (i *Inbox) Notify(level Level, message string) {
	i.Lock()
	defer i.Unlock()

	i.items = append(i.items, Notification{
		Level:   level,
		Message: message,
		Time:    i.now(),
	})

	if len(i.items) > i.size {
		i.items = i.items[len(i.items)-i.size:]
	}
}

// Recent returns a copy of the notifications, oldest first.
func (i *Inbox) Recent() []Notification {
	i.Lock()
	defer i.Unlock()

	return append([]Notification{}, i.items...)
}

// Tee returns a notifier that forwards to every given notifier in order.
func Tee(notifiers ...Notifier) Notifier {
	return tee(notifiers)
}

type tee []Notifier

func (t tee) Notify(level Level, message string) {
	for _, n := range t {
		n.Notify(level, message)
	}
}
