package bus

import "watchhound/internal/events"

// NotifierStatus describes one registered notifier for the status API.
type NotifierStatus struct {
	Name        string `json:"name"`
	MinSeverity string `json:"min_severity"`
	Enabled     bool   `json:"enabled"`
}

// Status is an operator-facing snapshot of the bus. It is independent of
// whether any notifier is currently failing.
type Status struct {
	Notifiers  []NotifierStatus `json:"notifiers"`
	HistoryLen int              `json:"history_len"`
	LastEvent  *events.Event    `json:"last_event,omitempty"`
}

// GetStatus reports the registered notifiers and the most recent event.
func (b *Bus) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{HistoryLen: b.count}
	for _, n := range b.notifiers {
		st.Notifiers = append(st.Notifiers, NotifierStatus{
			Name:        n.Name(),
			MinSeverity: n.MinSeverity().String(),
			Enabled:     n.Enabled(),
		})
	}
	if b.count > 0 {
		last := b.history[(b.start+b.count-1)%len(b.history)]
		st.LastEvent = &last
	}
	return st
}
