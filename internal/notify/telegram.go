package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"watchhound/internal/events"
)

const (
	// Telegram rate limit is roughly one message per second per chat;
	// stay comfortably under it.
	telegramMinInterval = 1500 * time.Millisecond
	// Hard message length limit of the Bot API.
	telegramMaxLen = 4096

	defaultTelegramRetries = 3
	telegramAPIBase        = "https://api.telegram.org"
)

// TelegramConfig configures the chat sink.
type TelegramConfig struct {
	BotToken   string
	ChatID     string
	MaxRetries int           // delivery attempts, default 3
	Interval   time.Duration // min inter-send interval, default 1.5s
	APIBase    string        // overridable for tests
}

// TelegramNotifier sends events as HTML messages through the Bot API.
// Callers are serialized through the minimum inter-send interval: a
// Deliver that arrives too early sleeps until the interval has passed.
type TelegramNotifier struct {
	base
	cfg TelegramConfig

	mu       sync.Mutex
	lastSend time.Time

	clientOnce sync.Once
	client     *http.Client
	sleep      func(time.Duration)
}

// NewTelegram creates the chat sink. A missing bot token or chat id is a
// configuration error for this sink only.
func NewTelegram(cfg TelegramConfig, opts Options) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: bot token and chat id are required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultTelegramRetries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = telegramMinInterval
	}
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPIBase
	}
	return &TelegramNotifier{
		base:  newBase("telegram", opts),
		cfg:   cfg,
		sleep: time.Sleep,
	}, nil
}

// httpClient lazily creates the shared transport, reused across calls.
func (n *TelegramNotifier) httpClient() *http.Client {
	n.clientOnce.Do(func() {
		if n.client == nil {
			n.client = &http.Client{Timeout: 15 * time.Second}
		}
	})
	return n.client
}

type telegramResponse struct {
	OK         bool `json:"ok"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Deliver sends one message. Rate-limited responses honor the
// server-supplied retry_after; 5xx responses back off exponentially;
// other client errors fail without retry.
func (n *TelegramNotifier) Deliver(e events.Event) bool {
	// Rate limiting — suspend the caller until the interval has passed.
	n.mu.Lock()
	if wait := n.cfg.Interval - time.Since(n.lastSend); wait > 0 {
		n.sleep(wait)
	}
	n.lastSend = time.Now()
	n.mu.Unlock()

	text := e.HTML()
	if len(text) > telegramMaxLen {
		// Cut on a rune boundary so the emoji-heavy rendering stays
		// valid UTF-8.
		cut := telegramMaxLen - 6
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n…"
	}

	payload, _ := json.Marshal(map[string]any{
		"chat_id":                  n.cfg.ChatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.APIBase, n.cfg.BotToken)

	for attempt := 1; attempt <= n.cfg.MaxRetries; attempt++ {
		resp, err := n.httpClient().Post(url, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("notify: telegram network error: %v (attempt %d/%d)",
				err, attempt, n.cfg.MaxRetries)
			if attempt < n.cfg.MaxRetries {
				n.sleep(backoffDelay(attempt))
			}
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return true

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := 5
			var tr telegramResponse
			if json.Unmarshal(body, &tr) == nil && tr.Parameters.RetryAfter > 0 {
				retryAfter = tr.Parameters.RetryAfter
			}
			log.Printf("notify: telegram rate limited, retrying in %ds (attempt %d/%d)",
				retryAfter, attempt, n.cfg.MaxRetries)
			n.sleep(time.Duration(retryAfter) * time.Second)

		case resp.StatusCode >= 500:
			log.Printf("notify: telegram server error %d (attempt %d/%d)",
				resp.StatusCode, attempt, n.cfg.MaxRetries)
			n.sleep(backoffDelay(attempt))

		default:
			// Client error — retrying will not help.
			log.Printf("notify: telegram error %d: %s", resp.StatusCode, truncate(body, 200))
			return false
		}
	}

	log.Printf("notify: telegram retry budget exhausted for %s event", e.Category)
	return false
}

// Shutdown closes the transport's idle connections.
func (n *TelegramNotifier) Shutdown() error {
	if n.client != nil {
		n.client.CloseIdleConnections()
	}
	return nil
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
