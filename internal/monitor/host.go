package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// HostSample is one reading of the machine's resource usage.
type HostSample struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
	RAMUsed     uint64
	RAMTotal    uint64
	DiskUsed    uint64
	DiskTotal   uint64
}

// Sampler produces host resource readings.
type Sampler interface {
	Sample(ctx context.Context) (HostSample, error)
}

// Thresholds are alert trip points in percent.
type Thresholds struct {
	CPU  float64
	RAM  float64
	Disk float64
}

// HostConfig tunes the host resource monitor.
type HostConfig struct {
	// Interval between samples. Zero means 60s.
	Interval time.Duration
	// Thresholds per metric. Zero fields default to CPU 90, RAM 85,
	// Disk 90.
	Thresholds Thresholds
	// Hysteresis scales the threshold for the all-clear: a tripped
	// metric recovers only below threshold*Hysteresis. Zero means 0.9.
	Hysteresis float64
	// DiskPath is the mount point to measure. Empty means "/".
	DiskPath string
}

func (c *HostConfig) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Thresholds.CPU == 0 {
		c.Thresholds.CPU = 90
	}
	if c.Thresholds.RAM == 0 {
		c.Thresholds.RAM = 85
	}
	if c.Thresholds.Disk == 0 {
		c.Thresholds.Disk = 90
	}
	if c.Hysteresis == 0 {
		c.Hysteresis = 0.9
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
}

// HostMonitor samples CPU, RAM and disk usage on an interval and alerts
// when a metric crosses its threshold. Each metric trips and recovers
// independently, and a tripped metric stays silent until it drops below
// the hysteresis band, so a value hovering at the threshold cannot
// flap alerts.
type HostMonitor struct {
	cfg     HostConfig
	emit    EmitFunc
	sampler Sampler

	mu      sync.Mutex
	tripped map[string]bool
	last    HostSample
	sampled bool
}

func NewHostMonitor(cfg HostConfig, emit EmitFunc) *HostMonitor {
	cfg.applyDefaults()
	return &HostMonitor{
		cfg:     cfg,
		emit:    emit,
		sampler: newProcSampler(cfg.DiskPath),
		tripped: make(map[string]bool),
	}
}

// Run samples until ctx is canceled.
func (m *HostMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, err := m.sampler.Sample(ctx)
			if err != nil {
				log.Printf("host: sample failed: %v", err)
				continue
			}
			m.evaluate(s)
		}
	}
}

// evaluate runs the threshold checks against one sample.
func (m *HostMonitor) evaluate(s HostSample) {
	m.mu.Lock()
	m.last = s
	m.sampled = true
	m.mu.Unlock()

	m.checkMetric("cpu", "CPU", s.CPUPercent, m.cfg.Thresholds.CPU, "")
	m.checkMetric("ram", "RAM", s.RAMPercent, m.cfg.Thresholds.RAM,
		fmt.Sprintf("%s of %s", humanize.IBytes(s.RAMUsed), humanize.IBytes(s.RAMTotal)))
	m.checkMetric("disk", "disk", s.DiskPercent, m.cfg.Thresholds.Disk,
		fmt.Sprintf("%s of %s", humanize.IBytes(s.DiskUsed), humanize.IBytes(s.DiskTotal)))
}

func (m *HostMonitor) checkMetric(key, label string, value, threshold float64, detail string) {
	m.mu.Lock()
	active := m.tripped[key]
	m.mu.Unlock()

	meta := map[string]string{
		"metric":    key,
		"value":     fmt.Sprintf("%.1f%%", value),
		"threshold": fmt.Sprintf("%.0f%%", threshold),
	}
	if detail != "" {
		meta["usage"] = detail
	}

	switch {
	case !active && value >= threshold:
		m.setTripped(key, true)
		sev := sevWarning
		if value >= 95 {
			sev = sevError
		}
		m.emit(sev, fmt.Sprintf("📈 high %s usage: %.1f%% (threshold %.0f%%)", label, value, threshold), meta)

	case active && value < threshold*m.cfg.Hysteresis:
		m.setTripped(key, false)
		m.emit(sevInfo, fmt.Sprintf("📉 %s usage back to normal: %.1f%%", label, value), meta)
	}
}

func (m *HostMonitor) setTripped(key string, v bool) {
	m.mu.Lock()
	m.tripped[key] = v
	m.mu.Unlock()
}

// Stats reports the latest sample for the status API.
func (m *HostMonitor) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sampled {
		return map[string]any{"sampled": false}
	}
	return map[string]any{
		"sampled":      true,
		"cpu_percent":  m.last.CPUPercent,
		"ram_percent":  m.last.RAMPercent,
		"disk_percent": m.last.DiskPercent,
		"ram_used":     humanize.IBytes(m.last.RAMUsed),
		"ram_total":    humanize.IBytes(m.last.RAMTotal),
		"disk_used":    humanize.IBytes(m.last.DiskUsed),
		"disk_total":   humanize.IBytes(m.last.DiskTotal),
	}
}
