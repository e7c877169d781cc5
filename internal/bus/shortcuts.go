package bus

import "watchhound/internal/events"

// Severity shortcuts — construct an event and emit it in one call.

func (b *Bus) Debug(category, message string) map[string]bool {
	return b.Emit(events.New(events.SeverityDebug, category, message))
}

func (b *Bus) Info(category, message string) map[string]bool {
	return b.Emit(events.New(events.SeverityInfo, category, message))
}

func (b *Bus) Warning(category, message string) map[string]bool {
	return b.Emit(events.New(events.SeverityWarning, category, message))
}

func (b *Bus) Error(category, message string, err error) map[string]bool {
	return b.Emit(events.New(events.SeverityError, category, message).WithError(err))
}

func (b *Bus) Critical(category, message string, err error) map[string]bool {
	return b.Emit(events.New(events.SeverityCritical, category, message).WithError(err))
}
