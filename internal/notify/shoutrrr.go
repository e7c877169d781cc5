package notify

import (
	"fmt"
	"log"

	"github.com/nicholas-fedor/shoutrrr"

	"watchhound/internal/events"
)

// Sender abstracts message dispatch so the sink can be tested without
// hitting real services.
type Sender interface {
	Send(serviceURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(serviceURL, message string) error {
	return shoutrrr.Send(serviceURL, message)
}

// ShoutrrrNotifier fans a plain-text rendering out to one or more
// Shoutrrr service URLs (smtp://, gotify://, pushover://, ...). Retries
// are left to the underlying services; a failure on any URL marks the
// delivery failed.
type ShoutrrrNotifier struct {
	base
	urls   []string
	sender Sender
}

// NewShoutrrr creates the sink. Passing a nil sender uses the real
// Shoutrrr dispatcher.
func NewShoutrrr(urls []string, sender Sender, opts Options) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("shoutrrr: at least one service url is required")
	}
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &ShoutrrrNotifier{
		base:   newBase("shoutrrr", opts),
		urls:   urls,
		sender: sender,
	}, nil
}

// Deliver sends the plain-text rendering to every configured URL.
func (n *ShoutrrrNotifier) Deliver(e events.Event) bool {
	message := e.PlainText()
	ok := true
	for _, u := range n.urls {
		if err := n.sender.Send(u, message); err != nil {
			log.Printf("notify: shoutrrr send failed: %v", err)
			ok = false
		}
	}
	return ok
}

// Shutdown is a no-op: Shoutrrr opens connections per send.
func (n *ShoutrrrNotifier) Shutdown() error { return nil }
