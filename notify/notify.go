// Package notify delivers user-facing notices (success, warning, error) in
// the order they were raised.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level is the severity of a notice.
type Level int

const (
	LevelSuccess Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is one message for the user.
type Notice struct {
	Level Level
	Text  string
}

// Notifier receives notices. Implementations must deliver them in call order.
type Notifier interface {
	Notify(n Notice)
}

// Success raises a success notice on n.
func Success(n Notifier, text string) { n.Notify(Notice{Level: LevelSuccess, Text: text}) }

// Info raises an informational notice on n.
func Info(n Notifier, text string) { n.Notify(Notice{Level: LevelInfo, Text: text}) }

// Warning raises a warning notice on n.
func Warning(n Notifier, text string) { n.Notify(Notice{Level: LevelWarning, Text: text}) }

// Error raises an error notice on n.
func Error(n Notifier, text string) { n.Notify(Notice{Level: LevelError, Text: text}) }

// Queue buffers notices until they are drained, for example into the next
// rendered page.
type Queue struct {
	mu      sync.Mutex
	notices []Notice
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Notify(n Notice) {
	q.mu.Lock()
	q.notices = append(q.notices, n)
	q.mu.Unlock()
}

// Drain returns every buffered notice in order and empties the queue.
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.notices
	q.notices = nil
	return out
}

// Writer prints notices as lines on an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

var prefixes = map[Level]string{
	LevelSuccess: "✓",
	LevelInfo:    "•",
	LevelWarning: "⚠",
	LevelError:   "✗",
}

func (w *Writer) Notify(n Notice) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, "%s %s\n", prefixes[n.Level], n.Text)
}

// Log records notices on a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Notifier writing to logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

// Notify logs n at Info. Notices are user-facing outcomes already shown to
// the user; the kind attribute carries their severity.
func (l *Log) Notify(n Notice) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "notice",
		slog.String("kind", n.Level.String()),
		slog.String("text", n.Text))
}

type multi []Notifier

func (m multi) Notify(n Notice) {
	for _, t := range m {
		t.Notify(n)
	}
}

// Multi fans each notice out to every notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}
