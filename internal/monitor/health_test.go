package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func setupHealthTest(t *testing.T, threshold int) (*HealthChecker, *alertRecorder) {
	t.Helper()
	rec := &alertRecorder{}
	h := NewHealthChecker(HealthConfig{
		URL:       "http://example.invalid/health",
		Threshold: threshold,
	}, rec.emit)
	return h, rec
}

// fail drives one failing observation.
func fail(h *HealthChecker, at time.Time) {
	h.observe(false, 20*time.Millisecond, "status 503", at)
}

func succeed(h *HealthChecker, at time.Time) {
	h.observe(true, 20*time.Millisecond, "", at)
}

func TestNoAlertBelowThreshold(t *testing.T) {
	h, rec := setupHealthTest(t, 3)
	now := time.Now()

	fail(h, now)
	fail(h, now.Add(30*time.Second))

	if rec.count() != 0 {
		t.Errorf("alerted before the threshold: %+v", rec.alerts)
	}
}

func TestSingleAlertPerDowntimeEpisode(t *testing.T) {
	h, rec := setupHealthTest(t, 3)
	now := time.Now()

	for i := 0; i < 8; i++ {
		fail(h, now.Add(time.Duration(i)*30*time.Second))
	}

	if got := rec.bySeverity(sevError); got != 1 {
		t.Errorf("got %d down alerts during one episode, want 1", got)
	}
}

func TestRecoveryReportsDowntimeDuration(t *testing.T) {
	h, rec := setupHealthTest(t, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		fail(h, now.Add(time.Duration(i)*30*time.Second))
	}
	succeed(h, now.Add(5*time.Minute))

	if got := rec.bySeverity(sevInfo); got != 1 {
		t.Fatalf("got %d recovery alerts, want 1", got)
	}
	last := rec.alerts[len(rec.alerts)-1]
	if !strings.Contains(last.msg, "back after") {
		t.Errorf("recovery message carries no duration: %q", last.msg)
	}
}

func TestNoRecoveryAlertWithoutPriorDownAlert(t *testing.T) {
	h, rec := setupHealthTest(t, 3)
	now := time.Now()

	fail(h, now)
	fail(h, now.Add(30*time.Second))
	succeed(h, now.Add(time.Minute))

	if rec.count() != 0 {
		t.Errorf("short blip produced alerts: %+v", rec.alerts)
	}
}

func TestNewEpisodeAlertsAgain(t *testing.T) {
	h, rec := setupHealthTest(t, 2)
	now := time.Now()

	fail(h, now)
	fail(h, now.Add(30*time.Second))
	succeed(h, now.Add(time.Minute))
	fail(h, now.Add(2*time.Minute))
	fail(h, now.Add(3*time.Minute))

	if got := rec.bySeverity(sevError); got != 2 {
		t.Errorf("got %d down alerts across two episodes, want 2", got)
	}
}

func TestUptimePercent(t *testing.T) {
	h, _ := setupHealthTest(t, 3)
	now := time.Now()

	if got := h.UptimePercent(); got != 100 {
		t.Errorf("fresh checker uptime = %f", got)
	}

	succeed(h, now)
	succeed(h, now)
	succeed(h, now)
	fail(h, now)

	if got := h.UptimePercent(); got != 75 {
		t.Errorf("uptime = %f, want 75", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	h, _ := setupHealthTest(t, 3)
	now := time.Now()

	fail(h, now)
	stats := h.Stats()

	if stats["healthy"] != false || stats["failures"] != 1 {
		t.Errorf("stats = %v", stats)
	}
	if stats["last_error"] != "status 503" {
		t.Errorf("last_error = %v", stats["last_error"])
	}
}

func TestCheckOnceRequiresStatusOK(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	rec := &alertRecorder{}
	h := NewHealthChecker(HealthConfig{URL: srv.URL}, rec.emit)

	status.Store(http.StatusOK)
	if ok, _ := h.checkOnce(context.Background()); !ok {
		t.Error("200 treated as failure")
	}

	// Other 2xx codes do not count as healthy either.
	status.Store(http.StatusNoContent)
	if ok, detail := h.checkOnce(context.Background()); ok {
		t.Error("204 treated as success")
	} else if !strings.Contains(detail, "204") {
		t.Errorf("detail = %q", detail)
	}

	status.Store(http.StatusBadGateway)
	ok, detail := h.checkOnce(context.Background())
	if ok {
		t.Error("502 treated as success")
	}
	if !strings.Contains(detail, "502") {
		t.Errorf("detail = %q", detail)
	}
}

func TestCheckOnceTransportErrorFails(t *testing.T) {
	rec := &alertRecorder{}
	h := NewHealthChecker(HealthConfig{
		URL:     "http://127.0.0.1:1/unreachable",
		Timeout: 200 * time.Millisecond,
	}, rec.emit)

	if ok, detail := h.checkOnce(context.Background()); ok || detail == "" {
		t.Error("transport error not reported as failure")
	}
}
