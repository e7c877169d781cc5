package events

import "strings"

// Severity indicates the urgency of an event. Values are ordered so they
// can be compared directly against a notifier's minimum threshold.
type Severity int

const (
	SeverityDebug    Severity = 10
	SeverityInfo     Severity = 20
	SeverityWarning  Severity = 30
	SeverityError    Severity = 40
	SeverityCritical Severity = 50
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns the marker used in chat and webhook renderings.
func (s Severity) Emoji() string {
	switch s {
	case SeverityDebug:
		return "🔍"
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "❌"
	case SeverityCritical:
		return "🔥"
	default:
		return ""
	}
}

// ParseSeverity converts a case-insensitive severity name to its value.
// Unknown names fall back to INFO.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "error":
		return SeverityError
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
