package events

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

const (
	// Telegram's hard message length limit.
	htmlTraceLimit    = 1000
	webhookTraceLimit = 2000
)

// PlainText renders the event for the file and console sinks.
func (e Event) PlainText() string {
	parts := []string{
		fmt.Sprintf("[%s]", e.Timestamp.Format("2006-01-02 15:04:05 UTC")),
		fmt.Sprintf("[%s]", e.Severity),
		fmt.Sprintf("[%s]", e.Category),
	}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Source))
	}
	parts = append(parts, e.Message)

	text := strings.Join(parts, " ")
	if e.Trace != "" {
		text += "\n" + e.Trace
	}
	return text
}

// HTML renders the event with Telegram's light HTML markup.
func (e Event) HTML() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s <b>[%s]</b> [%s]", e.Severity.Emoji(), e.Severity, e.Category)
	if e.Source != "" {
		fmt.Fprintf(&b, " <i>(%s)</i>", html.EscapeString(e.Source))
	}
	b.WriteString("\n")
	b.WriteString(html.EscapeString(e.Message))

	if len(e.Metadata) > 0 {
		b.WriteString("\n\n<b>Metadata:</b>")
		for _, k := range sortedKeys(e.Metadata) {
			fmt.Fprintf(&b, "\n  • %s: %s",
				html.EscapeString(k), html.EscapeString(e.Metadata[k]))
		}
	}

	if e.Trace != "" {
		tb := e.Trace
		if len(tb) > htmlTraceLimit {
			tb = tb[:htmlTraceLimit]
		}
		fmt.Fprintf(&b, "\n\n<pre>%s</pre>", html.EscapeString(tb))
	}

	fmt.Fprintf(&b, "\n\n<i>%s</i>", e.Timestamp.Format("15:04:05 UTC"))
	return b.String()
}

// JSON returns the raw webhook payload shape.
func (e Event) JSON() map[string]any {
	data := map[string]any{
		"id":        e.ID,
		"severity":  e.Severity.String(),
		"category":  e.Category,
		"message":   e.Message,
		"timestamp": e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		"source":    e.Source,
	}
	if len(e.Metadata) > 0 {
		data["metadata"] = e.Metadata
	}
	if e.Trace != "" {
		tb := e.Trace
		if len(tb) > webhookTraceLimit {
			tb = tb[:webhookTraceLimit]
		}
		data["trace"] = tb
	}
	return data
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
