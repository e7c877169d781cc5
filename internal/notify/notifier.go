// Package notify implements the delivery sinks behind the bus.
package notify

import (
	"time"

	"watchhound/internal/events"
)

// Notifier is a delivery endpoint. The bus calls Deliver on every
// registered notifier whose Accepts returns true for an event; retries
// are the notifier's own responsibility, the bus never retries.
type Notifier interface {
	Name() string
	// Accepts reports whether this notifier should handle the event.
	Accepts(e events.Event) bool
	// Deliver sends the event. It returns false on failure; it must not
	// panic for ordinary transport errors.
	Deliver(e events.Event) bool
	// Shutdown releases transport resources. Called exactly once by the
	// owning bus.
	Shutdown() error

	MinSeverity() events.Severity
	Enabled() bool
}

// Options carries the registration fields common to every sink.
// A zero MinSeverity defaults to INFO; Disabled is inverted so the zero
// value means enabled.
type Options struct {
	Name        string
	MinSeverity events.Severity
	Disabled    bool
}

// base provides the common Notifier plumbing for concrete sinks.
type base struct {
	name        string
	minSeverity events.Severity
	enabled     bool
}

func newBase(defaultName string, opts Options) base {
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	min := opts.MinSeverity
	if min == 0 {
		min = events.SeverityInfo
	}
	return base{name: name, minSeverity: min, enabled: !opts.Disabled}
}

func (b *base) Name() string                 { return b.name }
func (b *base) MinSeverity() events.Severity { return b.minSeverity }
func (b *base) Enabled() bool                { return b.enabled }

func (b *base) Accepts(e events.Event) bool {
	return b.enabled && e.Severity >= b.minSeverity
}

// backoffDelay is the shared exponential backoff schedule for transient
// transport failures: 2s, 4s, 8s, ...
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
