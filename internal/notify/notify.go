// Package notify reports mutation outcomes to whatever surface the user is looking at.
package notify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Variant selects how prominently a notification is shown.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is one toast or banner.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notifier displays notifications. Return values are never consumed.
type Notifier interface {
	Notify(notification Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify calls f.
func (f Func) Notify(notification Notification) {
	f(notification)
}

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier backed by logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notification Notification) {
	fields := []zap.Field{
		zap.String("title", notification.Title),
		zap.String("description", notification.Description),
		zap.String("variant", string(notification.Variant)),
	}
	if notification.Variant == VariantDestructive {
		n.logger.Warn("notification", fields...)
		return
	}
	n.logger.Info("notification", fields...)
}

// WriterNotifier renders notifications as terminal lines.
type WriterNotifier struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterNotifier returns a notifier printing to writer.
func NewWriterNotifier(writer io.Writer) *WriterNotifier {
	return &WriterNotifier{writer: writer}
}

func (n *WriterNotifier) Notify(notification Notification) {
	marker := "✓"
	if notification.Variant == VariantDestructive {
		marker = "✗"
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if notification.Description == "" {
		_, _ = fmt.Fprintf(n.writer, "%s %s\n", marker, notification.Title)
		return
	}
	_, _ = fmt.Fprintf(n.writer, "%s %s: %s\n", marker, notification.Title, notification.Description)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *Recorder) Notify(notification Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
}

// Notifications returns a copy of what was received so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Multi fans a notification out to every notifier.
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(notification Notification) {
		for _, notifier := range notifiers {
			if notifier != nil {
				notifier.Notify(notification)
			}
		}
	})
}
