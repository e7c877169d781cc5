package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DockerConfig tunes the container event monitor.
type DockerConfig struct {
	// Container is the name of the container to watch.
	Container string
	// SocketPath is the engine unix socket. Empty means DefaultDockerSocket.
	SocketPath string
	// LoopThreshold is the number of starts inside LoopWindow that count
	// as a restart loop. Zero means 3.
	LoopThreshold int
	// LoopWindow is the trailing window for loop detection. Zero means 5m.
	LoopWindow time.Duration
	// RetryDelay is the pause before reconnecting a dropped event
	// stream. Zero means 10s.
	RetryDelay time.Duration
}

func (c *DockerConfig) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultDockerSocket
	}
	if c.LoopThreshold == 0 {
		c.LoopThreshold = 3
	}
	if c.LoopWindow == 0 {
		c.LoopWindow = 5 * time.Minute
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 10 * time.Second
	}
}

// watchedActions are the engine event kinds the monitor subscribes to.
var watchedActions = []string{"die", "start", "stop", "kill", "oom", "health_status"}

// DockerMonitor watches one container's lifecycle through the engine
// event stream and raises alerts for deaths, OOM kills, restart loops
// and health state flips.
type DockerMonitor struct {
	cfg  DockerConfig
	emit EmitFunc
	api  containerAPI

	mu            sync.Mutex
	window        *restartWindow
	lastHealth    string
	oomPending    bool
	warnedMissing bool
	received      int
	starts        int
	deaths        int
	ooms          int
}

// NewDockerMonitor builds a monitor speaking to the engine socket in
// cfg. It does not touch the socket until Run.
func NewDockerMonitor(cfg DockerConfig, emit EmitFunc) *DockerMonitor {
	cfg.applyDefaults()
	return &DockerMonitor{
		cfg:    cfg,
		emit:   emit,
		api:    newEngineClient(cfg.SocketPath),
		window: newRestartWindow(cfg.LoopThreshold, cfg.LoopWindow),
	}
}

// Run subscribes to the event stream and processes events until ctx is
// canceled. A dropped stream is resubscribed after cfg.RetryDelay.
func (m *DockerMonitor) Run(ctx context.Context) error {
	for {
		if err := m.awaitContainer(ctx); err != nil {
			return err
		}
		err := m.streamOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("docker: event stream for %q ended: %v, retrying in %s",
			m.cfg.Container, err, m.cfg.RetryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryDelay):
		}
	}
}

// awaitContainer blocks until the target container exists. A missing
// container raises a single WARNING per absence, then polls quietly.
func (m *DockerMonitor) awaitContainer(ctx context.Context) error {
	for {
		inspectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := m.api.Inspect(inspectCtx, m.cfg.Container)
		cancel()

		switch {
		case err == nil:
			m.mu.Lock()
			m.warnedMissing = false
			m.mu.Unlock()
			return nil

		case errors.Is(err, errContainerNotFound):
			m.mu.Lock()
			warned := m.warnedMissing
			m.warnedMissing = true
			m.mu.Unlock()
			if !warned {
				m.emit(sevWarning,
					fmt.Sprintf("⚠️ container %s not found, waiting for it to appear", m.cfg.Container),
					map[string]string{"container": m.cfg.Container})
			}

		default:
			log.Printf("docker: inspect %q: %v", m.cfg.Container, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryDelay):
		}
	}
}

func (m *DockerMonitor) streamOnce(ctx context.Context) error {
	stream, err := m.api.Events(ctx, m.cfg.Container, watchedActions)
	if err != nil {
		return err
	}
	defer stream.Close()

	dec := json.NewDecoder(bufio.NewReader(stream))
	for {
		var ev engineEvent
		if err := dec.Decode(&ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		m.process(ctx, ev, time.Now())
	}
}

// process classifies one engine event. Exported through tests only.
func (m *DockerMonitor) process(ctx context.Context, ev engineEvent, now time.Time) {
	name := ev.Actor.Attributes["name"]
	if name == "" {
		name = m.cfg.Container
	}

	m.mu.Lock()
	m.received++
	m.mu.Unlock()

	switch {
	case ev.Action == "oom":
		m.mu.Lock()
		m.oomPending = true
		m.ooms++
		m.mu.Unlock()
		m.emit(sevCritical, fmt.Sprintf("💀 container %s was killed by the OOM killer", name),
			map[string]string{
				"container": name,
				"cause":     "oom",
				"at":        timestamp(now),
			})

	case ev.Action == "die":
		m.handleDie(ctx, name, ev, now)

	case ev.Action == "start":
		m.handleStart(name, now)

	case ev.Action == "stop":
		m.emit(sevInfo, fmt.Sprintf("🛑 container %s stopped", name), map[string]string{
			"container": name,
			"at":        timestamp(now),
		})

	case ev.Action == "kill":
		sig := ev.Actor.Attributes["signal"]
		m.emit(sevWarning, fmt.Sprintf("⚠️ container %s received signal %s", name, sig), map[string]string{
			"container": name,
			"signal":    sig,
			"at":        timestamp(now),
		})

	case ev.Action == "health_status: healthy" || ev.Action == "health_status":
		m.handleHealth(name, "healthy", now)

	case ev.Action == "health_status: unhealthy":
		m.handleHealth(name, "unhealthy", now)
	}
}

func (m *DockerMonitor) handleDie(ctx context.Context, name string, ev engineEvent, now time.Time) {
	exitCode := ev.Actor.Attributes["exitCode"]

	m.mu.Lock()
	alreadyAlerted := m.oomPending
	m.oomPending = false
	m.deaths++
	m.mu.Unlock()

	// An oom event already carried the alert for this death.
	if alreadyAlerted {
		return
	}

	// The die attributes do not carry the OOM flag, so when no oom
	// event preceded this death, confirm against inspect.
	oom := false
	inspectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	state, err := m.api.Inspect(inspectCtx, name)
	cancel()
	if err == nil && state.OOMKilled {
		oom = true
	}

	meta := map[string]string{
		"container": name,
		"exit_code": exitCode,
		"at":        timestamp(now),
	}
	if oom {
		meta["cause"] = "oom"
		m.emit(sevCritical, fmt.Sprintf("💀 container %s was killed by the OOM killer", name), meta)
		return
	}
	if exitCode == "0" {
		m.emit(sevWarning, fmt.Sprintf("⏹ container %s exited cleanly", name), meta)
		return
	}
	m.emit(sevCritical, fmt.Sprintf("💥 container %s died with exit code %s", name, exitCode), meta)
}

func (m *DockerMonitor) handleStart(name string, now time.Time) {
	m.mu.Lock()
	m.starts++
	first := m.starts == 1
	looping, count := m.window.observe(now)
	m.mu.Unlock()

	if looping {
		m.emit(sevCritical, fmt.Sprintf("🔁 container %s is restart looping: %d starts within %s",
			name, count, m.cfg.LoopWindow), map[string]string{
			"container": name,
			"starts":    fmt.Sprintf("%d", count),
			"window":    m.cfg.LoopWindow.String(),
			"at":        timestamp(now),
		})
		return
	}
	if first {
		// The first observed start is the monitor catching up with a
		// container that was already supposed to run. Not news.
		return
	}
	m.emit(sevWarning, fmt.Sprintf("🔄 container %s restarted", name), map[string]string{
		"container": name,
		"at":        timestamp(now),
	})
}

func (m *DockerMonitor) handleHealth(name, state string, now time.Time) {
	m.mu.Lock()
	prev := m.lastHealth
	m.lastHealth = state
	m.mu.Unlock()

	// Alert only on edges; the engine re-reports unchanged state.
	if prev == state {
		return
	}
	meta := map[string]string{
		"container": name,
		"health":    state,
		"at":        timestamp(now),
	}
	if state == "unhealthy" {
		m.emit(sevError, fmt.Sprintf("🤒 container %s reported unhealthy", name), meta)
		return
	}
	if prev == "unhealthy" {
		m.emit(sevInfo, fmt.Sprintf("✅ container %s is healthy again", name), meta)
	}
}

// Stats reports counters for the status API.
func (m *DockerMonitor) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"container":       m.cfg.Container,
		"events_received": m.received,
		"starts":          m.starts,
		"deaths":          m.deaths,
		"oom_kills":       m.ooms,
		"health":          m.lastHealth,
	}
}

// restartWindow counts container starts inside a trailing time window.
type restartWindow struct {
	k     int
	span  time.Duration
	times []time.Time
}

func newRestartWindow(k int, span time.Duration) *restartWindow {
	return &restartWindow{k: k, span: span}
}

// observe records one start and reports whether the trailing window now
// holds at least k starts, along with the in-window count.
func (w *restartWindow) observe(now time.Time) (bool, int) {
	w.times = append(w.times, now)

	kept := w.times[:0]
	for _, t := range w.times {
		if now.Sub(t) < w.span {
			kept = append(kept, t)
		}
	}
	w.times = kept
	return len(w.times) >= w.k, len(w.times)
}
