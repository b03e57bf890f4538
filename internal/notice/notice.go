// Package notice delivers transient user-visible messages.
package notice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/picstream/internal/model"
)

// Notifier receives notices raised by the session manager, feed store and
// dispatcher.
type Notifier interface {
	Notify(n model.Notice)
}

// Success raises a success notice on n.
func Success(n Notifier, msg string) {
	n.Notify(model.Notice{Level: model.NoticeSuccess, Message: msg, At: time.Now()})
}

// Error raises an error notice on n.
func Error(n Notifier, msg string) {
	n.Notify(model.Notice{Level: model.NoticeError, Message: msg, At: time.Now()})
}

// Info raises an informational notice on n.
func Info(n Notifier, msg string) {
	n.Notify(model.Notice{Level: model.NoticeInfo, Message: msg, At: time.Now()})
}

// Log writes notices to a structured logger.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(n model.Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n.Level == model.NoticeError {
		logger.Warn("notice", "level", n.Level, "message", n.Message)
		return
	}
	logger.Info("notice", "level", n.Level, "message", n.Message)
}

// DefaultBufferSize is the number of notices a Buffer keeps.
const DefaultBufferSize = 20

// Buffer keeps the most recent notices for display.
type Buffer struct {
	mu      sync.Mutex
	size    int
	notices []model.Notice
}

// NewBuffer creates a buffer holding at most size notices.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size}
}

// Notify implements Notifier.
func (b *Buffer) Notify(n model.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
	if over := len(b.notices) - b.size; over > 0 {
		b.notices = append([]model.Notice(nil), b.notices[over:]...)
	}
}

// Recent returns the buffered notices, newest last.
func (b *Buffer) Recent() []model.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Notice(nil), b.notices...)
}

// Last returns the newest notice, if any.
func (b *Buffer) Last() (model.Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.notices) == 0 {
		return model.Notice{}, false
	}
	return b.notices[len(b.notices)-1], true
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(n model.Notice) {
	for _, t := range m {
		t.Notify(n)
	}
}

// Discard drops every notice.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(model.Notice) {}
