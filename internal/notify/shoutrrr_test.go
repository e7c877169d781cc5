package notify

import (
	"fmt"
	"sync"
	"testing"

	"watchhound/internal/events"
)

// mockSender records calls for assertion.
type mockSender struct {
	mu      sync.Mutex
	calls   []string
	failURL string
}

func (m *mockSender) Send(url, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if url == m.failURL {
		return fmt.Errorf("mock send error")
	}
	return nil
}

func TestShoutrrrRequiresURL(t *testing.T) {
	if _, err := NewShoutrrr(nil, &mockSender{}, Options{}); err == nil {
		t.Error("empty url list accepted")
	}
}

func TestShoutrrrSendsToAllURLs(t *testing.T) {
	sender := &mockSender{}
	n, err := NewShoutrrr([]string{"gotify://a", "pushover://b"}, sender, Options{})
	if err != nil {
		t.Fatalf("NewShoutrrr: %v", err)
	}

	if !n.Deliver(events.New(events.SeverityInfo, events.CategorySystem, "m")) {
		t.Fatal("delivery failed")
	}
	if len(sender.calls) != 2 {
		t.Errorf("sent to %d urls, want 2", len(sender.calls))
	}
}

func TestShoutrrrAnyFailureFailsDelivery(t *testing.T) {
	sender := &mockSender{failURL: "gotify://a"}
	n, err := NewShoutrrr([]string{"gotify://a", "pushover://b"}, sender, Options{})
	if err != nil {
		t.Fatalf("NewShoutrrr: %v", err)
	}

	if n.Deliver(events.New(events.SeverityInfo, events.CategorySystem, "m")) {
		t.Error("partial failure reported as delivered")
	}
	if len(sender.calls) != 2 {
		t.Error("delivery stopped at the first failing url")
	}
}

func TestBuildFactoryTypes(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"file", Spec{Name: "f", Type: "file", Settings: map[string]string{}}, false},
		{"telegram", Spec{Name: "tg", Type: "telegram",
			Settings: map[string]string{"bot_token": "t", "chat_id": "1"}}, false},
		{"webhook", Spec{Name: "wh", Type: "webhook",
			Settings: map[string]string{"url": "https://example.com"}}, false},
		{"shoutrrr", Spec{Name: "sh", Type: "shoutrrr",
			Settings: map[string]string{"urls": "gotify://x, pushover://y"}}, false},
		{"unknown", Spec{Name: "u", Type: "carrier-pigeon"}, true},
		{"telegram missing token", Spec{Name: "tg2", Type: "telegram",
			Settings: map[string]string{"chat_id": "1"}}, true},
	}

	for _, c := range cases {
		n, err := Build(c.spec)
		if c.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", c.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if n.Name() != c.spec.Name {
			t.Errorf("%s: built notifier named %q", c.name, n.Name())
		}
	}
}

func TestBuildAppliesMinSeverity(t *testing.T) {
	n, err := Build(Spec{Name: "f", Type: "file", MinSeverity: "error"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n.Accepts(events.New(events.SeverityWarning, events.CategorySystem, "m")) {
		t.Error("sink accepted below its configured minimum")
	}
	if !n.Accepts(events.New(events.SeverityError, events.CategorySystem, "m")) {
		t.Error("sink rejected its configured minimum")
	}
}
