package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Semantic categories. These are open string tags, not a closed set —
// producers may invent their own.
const (
	CategoryLifecycle    = "lifecycle"
	CategoryRegistration = "registration"
	CategoryMail         = "mail"
	CategoryMonitor      = "monitor"
	CategoryCrash        = "crash"
	CategorySystem       = "system"
)

// Event is one occurrence flowing through the notification bus.
// Events are values: construct one with New and the With* helpers,
// then treat it as immutable.
type Event struct {
	ID        string            `json:"id"`
	Severity  Severity          `json:"severity"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Err       error             `json:"-"`
	Trace     string            `json:"trace,omitempty"`
	Source    string            `json:"source,omitempty"`
}

// New builds an event with the creation timestamp set once.
func New(severity Severity, category, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Severity:  severity,
		Category:  category,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithSource returns a copy tagged with the producer's name.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// WithMetadata returns a copy carrying the given structured metadata.
// The map is copied so later mutation by the caller cannot leak in.
func (e Event) WithMetadata(meta map[string]string) Event {
	if len(meta) == 0 {
		return e
	}
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	e.Metadata = m
	return e
}

// WithError returns a copy carrying a captured fault. If no trace has
// been supplied the error chain is formatted into one, so Trace is
// always non-empty when Err is set.
func (e Event) WithError(err error) Event {
	e.Err = err
	if err != nil && e.Trace == "" {
		e.Trace = fmt.Sprintf("%T: %v", err, err)
	}
	return e
}

// WithTrace returns a copy carrying pre-formatted stack text, e.g. the
// output of debug.Stack() captured at a panic site.
func (e Event) WithTrace(trace string) Event {
	e.Trace = trace
	return e
}
