package notify

import (
	"fmt"
	"strconv"
	"strings"

	"watchhound/internal/events"
)

// Spec is a declarative sink definition, decoded from the notifier
// config file or a stored settings row.
type Spec struct {
	Name        string            `json:"name" yaml:"name"`
	Type        string            `json:"type" yaml:"type"`
	MinSeverity string            `json:"min_severity" yaml:"min_severity"`
	Disabled    bool              `json:"disabled" yaml:"disabled"`
	Settings    map[string]string `json:"settings" yaml:"settings"`
}

// Build constructs the sink a spec describes. Errors are per-sink
// configuration failures; the caller decides whether to skip or abort.
func Build(spec Spec) (Notifier, error) {
	opts := Options{Name: spec.Name, Disabled: spec.Disabled}
	if spec.MinSeverity != "" {
		opts.MinSeverity = events.ParseSeverity(spec.MinSeverity)
	}
	s := spec.Settings

	switch spec.Type {
	case "file":
		cfg := FileConfig{
			Dir:      s["dir"],
			Filename: s["filename"],
			Console:  s["console"] != "false",
		}
		if v := s["max_bytes"]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("file sink: bad max_bytes %q", v)
			}
			cfg.MaxBytes = n
		}
		if v := s["backups"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("file sink: bad backups %q", v)
			}
			cfg.Backups = n
		}
		return NewFile(cfg, opts), nil

	case "telegram":
		return NewTelegram(TelegramConfig{
			BotToken: s["bot_token"],
			ChatID:   s["chat_id"],
		}, opts)

	case "webhook":
		return NewWebhook(WebhookConfig{
			URL:    s["url"],
			Format: s["format"],
		}, opts)

	case "shoutrrr":
		var urls []string
		for _, u := range strings.Split(s["urls"], ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return NewShoutrrr(urls, nil, opts)

	default:
		return nil, fmt.Errorf("unknown notifier type %q", spec.Type)
	}
}
