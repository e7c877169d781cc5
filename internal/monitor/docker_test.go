package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"watchhound/internal/events"
)

// fakeEngine serves canned inspect responses; the event stream is not
// used because tests drive process directly.
type fakeEngine struct {
	state      containerState
	inspectErr error
}

func (f *fakeEngine) Inspect(context.Context, string) (*containerState, error) {
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	s := f.state
	return &s, nil
}

func (f *fakeEngine) Events(context.Context, string, []string) (io.ReadCloser, error) {
	return nil, errContainerNotFound
}

// alertRecorder captures emitted alerts.
type alertRecorder struct {
	mu     sync.Mutex
	alerts []struct {
		sev events.Severity
		msg string
	}
}

func (r *alertRecorder) emit(sev events.Severity, msg string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, struct {
		sev events.Severity
		msg string
	}{sev, msg})
}

func (r *alertRecorder) bySeverity(sev events.Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.sev == sev {
			n++
		}
	}
	return n
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func setupDockerTest(t *testing.T, cfg DockerConfig) (*DockerMonitor, *alertRecorder, *fakeEngine) {
	t.Helper()
	if cfg.Container == "" {
		cfg.Container = "bot"
	}
	rec := &alertRecorder{}
	m := NewDockerMonitor(cfg, rec.emit)
	engine := &fakeEngine{}
	m.api = engine
	return m, rec, engine
}

func dockerEvent(action string, attrs map[string]string) engineEvent {
	var ev engineEvent
	ev.Action = action
	ev.Actor.Attributes = attrs
	return ev
}

func TestDieWithNonZeroExitIsCritical(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()

	m.process(ctx, dockerEvent("die", map[string]string{"name": "bot", "exitCode": "1"}), time.Now())

	if rec.bySeverity(sevCritical) != 1 {
		t.Errorf("non-zero exit not CRITICAL: %+v", rec.alerts)
	}
}

func TestCleanExitIsWarning(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()

	m.process(ctx, dockerEvent("die", map[string]string{"name": "bot", "exitCode": "0"}), time.Now())

	if rec.bySeverity(sevWarning) != 1 || rec.bySeverity(sevCritical) != 0 {
		t.Errorf("clean exit not WARNING: %+v", rec.alerts)
	}
}

func TestMissingContainerWarnsOnce(t *testing.T) {
	m, rec, engine := setupDockerTest(t, DockerConfig{RetryDelay: time.Millisecond})
	engine.inspectErr = errContainerNotFound

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.awaitContainer(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("awaitContainer = %v", err)
	}

	if rec.bySeverity(sevWarning) != 1 {
		t.Errorf("got %d WARNING alerts for a missing container, want 1: %+v",
			rec.bySeverity(sevWarning), rec.alerts)
	}
}

func TestMissingContainerWarnsAgainAfterReturn(t *testing.T) {
	m, rec, engine := setupDockerTest(t, DockerConfig{RetryDelay: time.Millisecond})

	engine.inspectErr = errContainerNotFound
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	m.awaitContainer(ctx)
	cancel()

	// The container comes back, then disappears again.
	engine.inspectErr = nil
	if err := m.awaitContainer(context.Background()); err != nil {
		t.Fatalf("awaitContainer with container present: %v", err)
	}

	engine.inspectErr = errContainerNotFound
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	m.awaitContainer(ctx)
	cancel()

	if rec.bySeverity(sevWarning) != 2 {
		t.Errorf("got %d WARNING alerts across two absences, want 2: %+v",
			rec.bySeverity(sevWarning), rec.alerts)
	}
}

func TestOOMEventEmitsSingleCritical(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()

	// The engine sends oom followed by die for the same death.
	m.process(ctx, dockerEvent("oom", map[string]string{"name": "bot"}), time.Now())
	m.process(ctx, dockerEvent("die", map[string]string{"name": "bot", "exitCode": "137"}), time.Now())

	if rec.bySeverity(sevCritical) != 1 {
		t.Errorf("got %d CRITICAL alerts, want 1", rec.bySeverity(sevCritical))
	}
	if rec.count() != 1 {
		t.Errorf("die after oom produced an extra alert: %+v", rec.alerts)
	}
}

func TestDieWithOOMKilledStateIsCritical(t *testing.T) {
	m, rec, engine := setupDockerTest(t, DockerConfig{})
	engine.state.OOMKilled = true
	ctx := context.Background()

	m.process(ctx, dockerEvent("die", map[string]string{"name": "bot", "exitCode": "137"}), time.Now())

	if rec.bySeverity(sevCritical) != 1 {
		t.Errorf("OOM death not classified as CRITICAL: %+v", rec.alerts)
	}
}

func TestRestartLoopAlertsOnThirdStart(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{LoopThreshold: 3, LoopWindow: 300 * time.Second})
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}),
			base.Add(time.Duration(i)*50*time.Second))
	}

	if rec.bySeverity(sevCritical) != 1 {
		t.Errorf("got %d CRITICAL loop alerts, want 1: %+v", rec.bySeverity(sevCritical), rec.alerts)
	}
}

func TestSlowRestartsNeverTripLoop(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{LoopThreshold: 3, LoopWindow: 300 * time.Second})
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}),
			base.Add(time.Duration(i)*400*time.Second))
	}

	if rec.bySeverity(sevCritical) != 0 {
		t.Errorf("slow restarts tripped the loop detector: %+v", rec.alerts)
	}
}

func TestFirstStartIsSilent(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()

	m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}), time.Now())

	if rec.count() != 0 {
		t.Errorf("first observed start produced alerts: %+v", rec.alerts)
	}
}

func TestSubsequentStartIsWarning(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()
	base := time.Now()

	m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}), base)
	m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}), base.Add(10*time.Minute))

	if rec.bySeverity(sevWarning) != 1 {
		t.Errorf("restart not reported as WARNING: %+v", rec.alerts)
	}
}

func TestHealthTransitionsAlertOnEdgesOnly(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()
	now := time.Now()

	m.process(ctx, dockerEvent("health_status: unhealthy", map[string]string{"name": "bot"}), now)
	m.process(ctx, dockerEvent("health_status: unhealthy", map[string]string{"name": "bot"}), now)
	m.process(ctx, dockerEvent("health_status: healthy", map[string]string{"name": "bot"}), now)

	if rec.bySeverity(sevError) != 1 {
		t.Errorf("got %d unhealthy alerts, want 1", rec.bySeverity(sevError))
	}
	if rec.bySeverity(sevInfo) != 1 {
		t.Errorf("got %d recovery alerts, want 1", rec.bySeverity(sevInfo))
	}
}

func TestKillEventCarriesSignal(t *testing.T) {
	m, rec, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()

	m.process(ctx, dockerEvent("kill", map[string]string{"name": "bot", "signal": "SIGKILL"}), time.Now())

	if rec.bySeverity(sevWarning) != 1 {
		t.Errorf("kill event not reported: %+v", rec.alerts)
	}
}

func TestStatsCountsEvents(t *testing.T) {
	m, _, _ := setupDockerTest(t, DockerConfig{})
	ctx := context.Background()
	base := time.Now()

	m.process(ctx, dockerEvent("start", map[string]string{"name": "bot"}), base)
	m.process(ctx, dockerEvent("die", map[string]string{"name": "bot", "exitCode": "1"}), base)

	stats := m.Stats()
	if stats["events_received"] != 2 || stats["starts"] != 1 || stats["deaths"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestRestartWindowPrunesOldEntries(t *testing.T) {
	w := newRestartWindow(3, 100*time.Second)
	base := time.Now()

	w.observe(base)
	w.observe(base.Add(10 * time.Second))
	// Third start lands after the first left the window.
	if looping, _ := w.observe(base.Add(150 * time.Second)); looping {
		t.Error("stale start still counted in the window")
	}
}
