package bridge

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"watchhound/internal/bus"
	"watchhound/internal/events"
)

// LifecycleEmitter emits standardized startup/shutdown events with
// uptime accounting.
type LifecycleEmitter struct {
	bus   *bus.Bus
	start time.Time
}

func NewLifecycleEmitter(b *bus.Bus) *LifecycleEmitter {
	return &LifecycleEmitter{bus: b}
}

// Startup records the start instant and announces the process.
func (l *LifecycleEmitter) Startup() {
	l.start = time.Now().UTC()

	hostname, _ := os.Hostname()
	l.bus.Emit(events.New(events.SeverityInfo, events.CategoryLifecycle, "🟢 watchhound started").
		WithSource("lifecycle").
		WithMetadata(map[string]string{
			"go":       runtime.Version(),
			"platform": runtime.GOOS + "/" + runtime.GOARCH,
			"pid":      fmt.Sprintf("%d", os.Getpid()),
			"hostname": hostname,
		}))
}

// Shutdown announces an orderly stop with the elapsed uptime. The
// uptime is empty if Startup was never called.
func (l *LifecycleEmitter) Shutdown(reason string) {
	meta := map[string]string{}
	if !l.start.IsZero() {
		meta["uptime"] = FormatUptime(time.Since(l.start))
	}
	l.bus.Emit(events.New(events.SeverityInfo, events.CategoryLifecycle,
		"🔴 watchhound shutting down — "+reason).
		WithSource("lifecycle").
		WithMetadata(meta))
}

// ErrorRestart announces a crash that will be followed by a restart.
func (l *LifecycleEmitter) ErrorRestart(err error) {
	l.bus.Emit(events.New(events.SeverityCritical, events.CategoryCrash,
		"💥 watchhound crashed — restarting").
		WithSource("lifecycle").
		WithError(err))
}

// FormatUptime renders a duration as "1h 2m 3s".
func FormatUptime(d time.Duration) string {
	secs := int(d.Seconds())
	hours, rem := secs/3600, secs%3600
	return fmt.Sprintf("%dh %dm %ds", hours, rem/60, rem%60)
}
