package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// cpuTimes is the aggregate cpu line from /proc/stat.
type cpuTimes struct {
	idle  uint64
	total uint64
}

// procSampler reads host usage from /proc and statfs. CPU usage is the
// busy share of the delta since the previous sample, so the first call
// reports 0.
type procSampler struct {
	diskPath string

	mu   sync.Mutex
	prev cpuTimes
	have bool
}

func newProcSampler(diskPath string) *procSampler {
	return &procSampler{diskPath: diskPath}
}

func (p *procSampler) Sample(_ context.Context) (HostSample, error) {
	var s HostSample

	cpu, err := readCPUTimes()
	if err != nil {
		return s, err
	}
	p.mu.Lock()
	if p.have {
		dTotal := cpu.total - p.prev.total
		dIdle := cpu.idle - p.prev.idle
		if dTotal > 0 {
			s.CPUPercent = float64(dTotal-dIdle) / float64(dTotal) * 100
		}
	}
	p.prev = cpu
	p.have = true
	p.mu.Unlock()

	total, avail, err := readMemInfo()
	if err != nil {
		return s, err
	}
	s.RAMTotal = total
	s.RAMUsed = total - avail
	if total > 0 {
		s.RAMPercent = float64(s.RAMUsed) / float64(total) * 100
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(p.diskPath, &fs); err != nil {
		return s, fmt.Errorf("statfs %s: %w", p.diskPath, err)
	}
	bsize := uint64(fs.Bsize)
	s.DiskTotal = fs.Blocks * bsize
	s.DiskUsed = (fs.Blocks - fs.Bfree) * bsize
	// Like df: percentage against space available to unprivileged users.
	usable := s.DiskUsed + fs.Bavail*bsize
	if usable > 0 {
		s.DiskPercent = float64(s.DiskUsed) / float64(usable) * 100
	}
	return s, nil
}

func readCPUTimes() (cpuTimes, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var t cpuTimes
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse /proc/stat: %w", err)
			}
			t.total += v
			// Fields 4 and 5 after "cpu" are idle and iowait.
			if i == 3 || i == 4 {
				t.idle += v
			}
		}
		return t, nil
	}
	return cpuTimes{}, fmt.Errorf("no cpu line in /proc/stat")
}

func readMemInfo() (total, available uint64, err error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v * 1024
		case "MemAvailable:":
			available = v * 1024
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("no MemTotal in /proc/meminfo")
	}
	return total, available, nil
}
