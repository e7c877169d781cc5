package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"watchhound/internal/bridge"
)

// HealthConfig tunes the endpoint health checker.
type HealthConfig struct {
	// URL is the endpoint to probe with GET.
	URL string
	// Interval between probes. Zero means 30s.
	Interval time.Duration
	// Timeout per probe. Zero means 10s.
	Timeout time.Duration
	// Threshold is the number of consecutive failures before the
	// endpoint is declared down. Zero means 3.
	Threshold int
}

func (c *HealthConfig) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Threshold == 0 {
		c.Threshold = 3
	}
}

// HealthChecker probes one HTTP endpoint on a fixed interval. It emits
// a single ERROR when the failure threshold is crossed, stays quiet for
// the rest of the downtime episode, and emits one INFO with the outage
// duration on recovery.
type HealthChecker struct {
	cfg    HealthConfig
	emit   EmitFunc
	client *http.Client

	mu            sync.Mutex
	consecFails   int
	alerted       bool
	downtimeStart time.Time
	lastDetail    string

	totalChecks   int
	totalFailures int
	lastCheck     time.Time
	lastLatency   time.Duration
	lastOK        bool
}

func NewHealthChecker(cfg HealthConfig, emit EmitFunc) *HealthChecker {
	cfg.applyDefaults()
	return &HealthChecker{
		cfg:    cfg,
		emit:   emit,
		client: &http.Client{Timeout: cfg.Timeout},
		lastOK: true,
	}
}

// Run probes until ctx is canceled. The first probe fires immediately.
func (h *HealthChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthChecker) probe(ctx context.Context) {
	start := time.Now()
	ok, detail := h.checkOnce(ctx)
	h.observe(ok, time.Since(start), detail, time.Now())
}

// checkOnce performs one GET. Only a 200 counts as healthy; every other
// status, transport errors and timeouts included, is a failure.
func (h *HealthChecker) checkOnce(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusOK {
		return true, ""
	}
	return false, fmt.Sprintf("status %d", resp.StatusCode)
}

// observe advances the downtime state machine with one probe result.
// Split from probe so tests can drive it without a live endpoint.
func (h *HealthChecker) observe(ok bool, latency time.Duration, detail string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalChecks++
	h.lastCheck = now
	h.lastLatency = latency
	h.lastOK = ok

	if ok {
		if h.alerted {
			outage := now.Sub(h.downtimeStart)
			h.emit(sevInfo, fmt.Sprintf("✅ %s is back after %s", h.cfg.URL, bridge.FormatUptime(outage)),
				map[string]string{
					"url":      h.cfg.URL,
					"downtime": outage.Round(time.Second).String(),
					"latency":  latency.Round(time.Millisecond).String(),
				})
		}
		h.consecFails = 0
		h.alerted = false
		h.downtimeStart = time.Time{}
		h.lastDetail = ""
		return
	}

	h.totalFailures++
	h.consecFails++
	h.lastDetail = detail
	if h.downtimeStart.IsZero() {
		h.downtimeStart = now
	}
	// One alert per episode, on the probe that crosses the threshold.
	if h.consecFails == h.cfg.Threshold && !h.alerted {
		h.alerted = true
		h.emit(sevError, fmt.Sprintf("🚨 %s is down: %s (%d consecutive failures)",
			h.cfg.URL, detail, h.consecFails),
			map[string]string{
				"url":      h.cfg.URL,
				"failures": fmt.Sprintf("%d", h.consecFails),
				"detail":   detail,
			})
	}
}

// UptimePercent is the share of probes that succeeded so far. A checker
// that has not probed yet reports 100.
func (h *HealthChecker) UptimePercent() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.totalChecks == 0 {
		return 100
	}
	return float64(h.totalChecks-h.totalFailures) / float64(h.totalChecks) * 100
}

// Stats reports checker state for the status API.
func (h *HealthChecker) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := map[string]any{
		"url":            h.cfg.URL,
		"healthy":        h.lastOK,
		"checks":         h.totalChecks,
		"failures":       h.totalFailures,
		"uptime_percent": 100.0,
		"last_latency":   h.lastLatency.Round(time.Millisecond).String(),
	}
	if h.totalChecks > 0 {
		stats["uptime_percent"] = float64(h.totalChecks-h.totalFailures) / float64(h.totalChecks) * 100
	}
	if !h.lastCheck.IsZero() {
		stats["last_check"] = h.lastCheck.UTC().Format(time.RFC3339)
	}
	if h.lastDetail != "" {
		stats["last_error"] = h.lastDetail
	}
	return stats
}
