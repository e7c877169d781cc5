package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"watchhound/internal/bus"
	"watchhound/internal/events"
)

// Recover converts a panic at the process entry point into a
// CRITICAL/crash event, then re-panics so the default termination
// behavior is preserved. Use it deferred at the top of main:
//
//	defer bridge.Recover(b)
func Recover(b *bus.Bus) {
	r := recover()
	if r == nil {
		return
	}
	b.Emit(events.New(events.SeverityCritical, events.CategoryCrash,
		fmt.Sprintf("unhandled panic: %v", r)).
		WithSource("main").
		WithTrace(string(debug.Stack())))
	panic(r)
}

// Go runs fn on its own goroutine with fault capture: a panic or a
// returned error becomes a CRITICAL/crash event. Context cancellation is
// an orderly stop, not a crash, and is never reported.
func Go(b *bus.Bus, name string, fn func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.Emit(events.New(events.SeverityCritical, events.CategoryCrash,
					fmt.Sprintf("panic in background task %q: %v", name, r)).
					WithSource(name).
					WithTrace(string(debug.Stack())))
			}
		}()

		err := fn()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		b.Emit(events.New(events.SeverityCritical, events.CategoryCrash,
			fmt.Sprintf("background task %q failed: %v", name, err)).
			WithSource(name).
			WithError(err))
	}()
}
