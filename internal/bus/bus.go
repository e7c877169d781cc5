// Package bus fans events out to registered notifiers by severity.
package bus

import (
	"log"
	"sync"

	"watchhound/internal/events"
	"watchhound/internal/notify"
)

// DefaultHistorySize bounds the in-memory event ring.
const DefaultHistorySize = 100

// ResultHook observes the outcome of one delivery attempt. It runs on the
// delivery goroutine and must not block for long.
type ResultHook func(e events.Event, notifier string, ok bool)

// Bus owns the registered notifiers and a bounded event history.
// Emit dispatches concurrently to every accepting notifier and isolates
// each notifier's failure.
type Bus struct {
	mu        sync.Mutex
	notifiers []notify.Notifier
	history   []events.Event // ring buffer, oldest first
	start     int
	count     int
	hook      ResultHook
	closed    bool
}

// New creates a bus with the given history capacity.
// Sizes below 1 fall back to DefaultHistorySize.
func New(historySize int) *Bus {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &Bus{history: make([]events.Event, historySize)}
}

// SetResultHook installs a callback invoked once per delivery attempt,
// e.g. to record outcomes in the delivery history store.
func (b *Bus) SetResultHook(hook ResultHook) {
	b.mu.Lock()
	b.hook = hook
	b.mu.Unlock()
}

// Register adds a notifier. A notifier with the same name replaces the
// existing one; the replaced notifier is shut down.
func (b *Bus) Register(n notify.Notifier) {
	var replaced notify.Notifier

	b.mu.Lock()
	for i, existing := range b.notifiers {
		if existing.Name() == n.Name() {
			replaced = existing
			b.notifiers[i] = n
			break
		}
	}
	if replaced == nil {
		b.notifiers = append(b.notifiers, n)
	}
	b.mu.Unlock()

	if replaced != nil {
		if err := replaced.Shutdown(); err != nil {
			log.Printf("bus: shutdown of replaced notifier %q: %v", n.Name(), err)
		}
		log.Printf("bus: notifier %q replaced", n.Name())
		return
	}
	log.Printf("bus: notifier %q registered", n.Name())
}

// Unregister removes a notifier by name and shuts it down.
// Returns false if no notifier with that name is registered.
func (b *Bus) Unregister(name string) bool {
	var removed notify.Notifier

	b.mu.Lock()
	for i, n := range b.notifiers {
		if n.Name() == name {
			removed = n
			b.notifiers = append(b.notifiers[:i], b.notifiers[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if removed == nil {
		return false
	}
	if err := removed.Shutdown(); err != nil {
		log.Printf("bus: shutdown of notifier %q: %v", name, err)
	}
	log.Printf("bus: notifier %q removed", name)
	return true
}

// Emit appends the event to the history and dispatches it concurrently
// to every accepting notifier. It returns a map of notifier name to
// delivery outcome; a panicking notifier is recorded as false and never
// disturbs its siblings. Emit blocks only until this event's fan-out
// completes — successive Emit calls are not serialized against each other.
func (b *Bus) Emit(e events.Event) map[string]bool {
	b.mu.Lock()
	b.push(e)
	selected := make([]notify.Notifier, 0, len(b.notifiers))
	for _, n := range b.notifiers {
		if n.Accepts(e) {
			selected = append(selected, n)
		}
	}
	hook := b.hook
	b.mu.Unlock()

	results := make(map[string]bool, len(selected))
	if len(selected) == 0 {
		return results
	}

	var (
		wg sync.WaitGroup
		rm sync.Mutex
	)
	for _, n := range selected {
		wg.Add(1)
		go func(n notify.Notifier) {
			defer wg.Done()
			ok := deliver(n, e)
			rm.Lock()
			results[n.Name()] = ok
			rm.Unlock()
			if hook != nil {
				hook(e, n.Name(), ok)
			}
		}(n)
	}
	wg.Wait()
	return results
}

// deliver calls the notifier and converts a panic into a failed outcome.
func deliver(n notify.Notifier, e events.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: notifier %q panicked: %v", n.Name(), r)
			ok = false
		}
	}()
	return n.Deliver(e)
}

// push appends to the ring, evicting the oldest entry when full.
func (b *Bus) push(e events.Event) {
	if b.count < len(b.history) {
		b.history[(b.start+b.count)%len(b.history)] = e
		b.count++
		return
	}
	b.history[b.start] = e
	b.start = (b.start + 1) % len(b.history)
}

// Recent returns up to n history entries, newest last.
func (b *Bus) Recent(n int) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]events.Event, 0, n)
	for i := b.count - n; i < b.count; i++ {
		out = append(out, b.history[(b.start+i)%len(b.history)])
	}
	return out
}

// Close shuts every notifier down exactly once. A notifier that fails to
// shut down is logged and skipped so it cannot block the others.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	notifiers := b.notifiers
	b.notifiers = nil
	b.mu.Unlock()

	for _, n := range notifiers {
		if err := n.Shutdown(); err != nil {
			log.Printf("bus: shutdown of notifier %q: %v", n.Name(), err)
		}
	}
}
