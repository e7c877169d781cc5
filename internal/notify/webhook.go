package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"watchhound/internal/events"
)

const defaultWebhookRetries = 2

// PayloadBuilder shapes an event into the JSON body POSTed to a webhook.
type PayloadBuilder func(e events.Event) map[string]any

// builtinBuilders maps configuration names to payload shapes.
var builtinBuilders = map[string]PayloadBuilder{
	"slack":   slackPayload,
	"discord": discordPayload,
}

// WebhookConfig configures the generic webhook sink.
type WebhookConfig struct {
	URL        string
	Format     string            // "", "slack" or "discord"
	Builder    PayloadBuilder    // overrides Format when set
	Headers    map[string]string // extra headers, e.g. auth
	Timeout    time.Duration     // default 10s
	MaxRetries int               // default 2
}

// WebhookNotifier POSTs events as JSON to an arbitrary endpoint.
// 429 and 5xx responses are retried with exponential backoff; any other
// failing status fails immediately.
type WebhookNotifier struct {
	base
	cfg     WebhookConfig
	builder PayloadBuilder
	client  *http.Client
	sleep   func(time.Duration)
}

// NewWebhook creates the webhook sink. An unknown format name is a
// configuration error for this sink only and must not prevent other
// sinks from initializing.
func NewWebhook(cfg WebhookConfig, opts Options) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if opts.MinSeverity == 0 {
		opts.MinSeverity = events.SeverityWarning
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultWebhookRetries
	}

	builder := cfg.Builder
	if builder == nil {
		if cfg.Format == "" {
			builder = func(e events.Event) map[string]any { return e.JSON() }
		} else {
			named, ok := builtinBuilders[cfg.Format]
			if !ok {
				return nil, fmt.Errorf("webhook: unknown payload format %q", cfg.Format)
			}
			builder = named
		}
	}

	if !strings.HasPrefix(cfg.URL, "https://") {
		log.Printf("notify: webhook url is not https (%s) — event data will travel in cleartext",
			shortURL(cfg.URL))
	}

	return &WebhookNotifier{
		base:    newBase("webhook", opts),
		cfg:     cfg,
		builder: builder,
		client:  &http.Client{Timeout: cfg.Timeout},
		sleep:   time.Sleep,
	}, nil
}

// Deliver POSTs the shaped payload.
func (n *WebhookNotifier) Deliver(e events.Event) bool {
	payload, err := json.Marshal(n.builder(e))
	if err != nil {
		log.Printf("notify: webhook %s: marshal payload: %v", n.name, err)
		return false
	}

	for attempt := 1; attempt <= n.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			log.Printf("notify: webhook %s: build request: %v", n.name, err)
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range n.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			log.Printf("notify: webhook %s: network error: %v (attempt %d/%d)",
				n.name, err, attempt, n.cfg.MaxRetries)
			if attempt < n.cfg.MaxRetries {
				n.sleep(backoffDelay(attempt))
			}
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return true
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Printf("notify: webhook %s: status %d, retry %d/%d",
				n.name, resp.StatusCode, attempt, n.cfg.MaxRetries)
			n.sleep(backoffDelay(attempt))
			continue
		}

		log.Printf("notify: webhook %s: status %d: %s", n.name, resp.StatusCode, truncate(body, 200))
		return false
	}
	return false
}

// Shutdown closes the transport's idle connections.
func (n *WebhookNotifier) Shutdown() error {
	n.client.CloseIdleConnections()
	return nil
}

func shortURL(u string) string {
	if len(u) > 40 {
		return u[:40] + "..."
	}
	return u
}

// slackPayload shapes the event as a Slack incoming-webhook attachment.
func slackPayload(e events.Event) map[string]any {
	fields := make([]map[string]any, 0, len(e.Metadata))
	for _, k := range metadataKeys(e.Metadata, 5) {
		fields = append(fields, map[string]any{
			"title": k, "value": e.Metadata[k], "short": true,
		})
	}

	source := e.Source
	if source == "" {
		source = "watchhound"
	}

	return map[string]any{
		"attachments": []map[string]any{{
			"color":  slackColors[e.Severity],
			"title":  fmt.Sprintf("%s [%s] %s", e.Severity.Emoji(), e.Severity, e.Category),
			"text":   e.Message,
			"footer": source,
			"ts":     e.Timestamp.Unix(),
			"fields": fields,
		}},
	}
}

// discordPayload shapes the event as a Discord embed.
func discordPayload(e events.Event) map[string]any {
	embed := map[string]any{
		"title":       fmt.Sprintf("%s [%s] %s", e.Severity.Emoji(), e.Severity, e.Category),
		"description": clip(e.Message, 2000),
		"color":       discordColors[e.Severity],
		"timestamp":   e.Timestamp.Format(time.RFC3339),
	}
	if e.Source != "" {
		embed["footer"] = map[string]any{"text": e.Source}
	}

	var fields []map[string]any
	for _, k := range metadataKeys(e.Metadata, 5) {
		fields = append(fields, map[string]any{
			"name": k, "value": clip(e.Metadata[k], 200), "inline": true,
		})
	}
	if e.Trace != "" {
		fields = append(fields, map[string]any{
			"name": "Trace", "value": fmt.Sprintf("```%s```", clip(e.Trace, 500)),
		})
	}
	if len(fields) > 0 {
		embed["fields"] = fields
	}

	return map[string]any{"embeds": []map[string]any{embed}}
}

var slackColors = map[events.Severity]string{
	events.SeverityDebug:    "#808080",
	events.SeverityInfo:     "#36a64f",
	events.SeverityWarning:  "#ff9900",
	events.SeverityError:    "#ff0000",
	events.SeverityCritical: "#990000",
}

var discordColors = map[events.Severity]int{
	events.SeverityDebug:    0x808080,
	events.SeverityInfo:     0x36a64f,
	events.SeverityWarning:  0xff9900,
	events.SeverityError:    0xff0000,
	events.SeverityCritical: 0x990000,
}

func metadataKeys(m map[string]string, max int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > max {
		keys = keys[:max]
	}
	return keys
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
