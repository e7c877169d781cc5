// Package bridge turns uncaught faults and elevated log records into
// bus events, and emits standardized lifecycle events.
package bridge

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"watchhound/internal/bus"
	"watchhound/internal/events"
)

// LevelCritical extends slog's levels above Error for records that
// should surface as CRITICAL events.
const LevelCritical = slog.LevelError + 4

// Component names whose log records are never converted into events.
// Without this exclusion a failing sink's own error log would trigger
// another emit, which would log again, forever.
var ignoredComponents = []string{"notify", "bus", "bridge"}

// Packages matched against the record's call site for the same purpose.
var ignoredPackages = []string{
	"watchhound/internal/notify",
	"watchhound/internal/bus",
	"watchhound/internal/bridge",
}

// LogBridge forwards slog records at or above a severity floor to the
// bus. Forwarding is asynchronous: records are enqueued onto a bounded
// channel consumed by a dedicated dispatcher goroutine, so a slow sink
// never blocks the code that logged. When the dispatcher is not
// running, the record falls back to a synchronous console line instead
// of being dropped silently.
type LogBridge struct {
	bus   *bus.Bus
	floor events.Severity

	queue  chan events.Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewLogBridge creates a bridge forwarding records at or above floor.
// A zero floor defaults to ERROR.
func NewLogBridge(b *bus.Bus, floor events.Severity) *LogBridge {
	if floor == 0 {
		floor = events.SeverityError
	}
	return &LogBridge{
		bus:    b,
		floor:  floor,
		queue:  make(chan events.Event, 256),
		stopCh: make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine.
func (lb *LogBridge) Start() {
	lb.mu.Lock()
	if lb.running {
		lb.mu.Unlock()
		return
	}
	lb.running = true
	lb.mu.Unlock()

	lb.wg.Add(1)
	go func() {
		defer lb.wg.Done()
		for {
			select {
			case e := <-lb.queue:
				lb.bus.Emit(e)
			case <-lb.stopCh:
				// Drain whatever is already queued.
				for {
					select {
					case e := <-lb.queue:
						lb.bus.Emit(e)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop signals the dispatcher to drain and waits for it.
func (lb *LogBridge) Stop() {
	lb.mu.Lock()
	if !lb.running {
		lb.mu.Unlock()
		return
	}
	lb.running = false
	lb.mu.Unlock()

	close(lb.stopCh)
	lb.wg.Wait()
}

// Handler returns the slog.Handler backed by this bridge, suitable for
// slog.SetDefault.
func (lb *LogBridge) Handler() slog.Handler {
	return &busHandler{bridge: lb}
}

// Logger returns a slog.Logger routed through the bridge and tagged
// with a component name, which drives loop exclusion.
func (lb *LogBridge) Logger(component string) *slog.Logger {
	return slog.New(lb.Handler()).With("component", component)
}

// Enabled reports whether records at level clear the floor. Exposed so
// callers can cheaply check before building expensive records.
func (lb *LogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return severityFor(level) >= lb.floor
}

// submit converts one record into an event and hands it to the
// dispatcher.
func (lb *LogBridge) submit(rec slog.Record, attrs []slog.Attr) {
	component, attachedErr := extract(rec, attrs)
	source := component
	if source == "" {
		source = callerPackage(rec.PC)
	}
	if excluded(source) {
		return
	}

	e := events.New(severityFor(rec.Level), events.CategorySystem, rec.Message).
		WithSource(source)
	if attachedErr != nil {
		e = e.WithError(attachedErr)
	}

	lb.mu.Lock()
	running := lb.running
	lb.mu.Unlock()

	if !running {
		// No dispatcher yet, or already stopped.
		fmt.Println("[logbridge] " + e.PlainText())
		return
	}

	select {
	case lb.queue <- e:
	default:
		log.Printf("bridge: log queue full, dropping %s record", e.Severity)
	}
}

// busHandler is the slog.Handler face of a LogBridge. Attribute state
// lives here so WithAttrs never copies the bridge's synchronization.
type busHandler struct {
	bridge *LogBridge
	attrs  []slog.Attr
}

func (h *busHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.bridge.Enabled(ctx, level)
}

func (h *busHandler) Handle(_ context.Context, rec slog.Record) error {
	h.bridge.submit(rec, h.attrs)
	return nil
}

func (h *busHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &busHandler{bridge: h.bridge, attrs: merged}
}

func (h *busHandler) WithGroup(string) slog.Handler { return h }

// extract pulls the component tag and any attached error out of the
// handler attrs and the record attrs.
func extract(rec slog.Record, handlerAttrs []slog.Attr) (component string, err error) {
	read := func(a slog.Attr) {
		switch a.Key {
		case "component":
			component = a.Value.String()
		case "err", "error":
			if e, ok := a.Value.Any().(error); ok {
				err = e
			}
		}
	}
	for _, a := range handlerAttrs {
		read(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		read(a)
		return true
	})
	return component, err
}

func excluded(source string) bool {
	for _, prefix := range ignoredComponents {
		if source == prefix || strings.HasPrefix(source, prefix+".") {
			return true
		}
	}
	for _, pkg := range ignoredPackages {
		if strings.Contains(source, pkg) {
			return true
		}
	}
	return false
}

func callerPackage(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	return frame.Function
}

func severityFor(level slog.Level) events.Severity {
	switch {
	case level >= LevelCritical:
		return events.SeverityCritical
	case level >= slog.LevelError:
		return events.SeverityError
	case level >= slog.LevelWarn:
		return events.SeverityWarning
	case level >= slog.LevelInfo:
		return events.SeverityInfo
	default:
		return events.SeverityDebug
	}
}
