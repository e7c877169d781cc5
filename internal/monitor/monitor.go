// Package monitor holds the long-running watchdog loops: the container
// event monitor, the HTTP health checker and the host resource sampler.
//
// Monitors do not know about the bus. They push alerts through an
// EmitFunc callback, which keeps them testable and lets the caller
// decide category and source tagging.
package monitor

import "watchhound/internal/events"

// EmitFunc receives one alert from a monitor.
type EmitFunc func(sev events.Severity, message string, meta map[string]string)

// Local shorthand; the alert call sites read better without the full
// package path on every line.
const (
	sevDebug    = events.SeverityDebug
	sevInfo     = events.SeverityInfo
	sevWarning  = events.SeverityWarning
	sevError    = events.SeverityError
	sevCritical = events.SeverityCritical
)
