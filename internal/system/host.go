package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// HostStats is the host load reported next to channel counters, so a slow
// channel can be told apart from a saturated decoder host.
type HostStats struct {
	CPUBusyPercent float64 `json:"cpu_busy_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
}

type cpuTicks struct {
	idle  uint64
	total uint64
}

// Sampler reads /proc. CPU usage is the busy share since the previous
// Sample call, so the first call reports 0.
type Sampler struct {
	statPath    string
	meminfoPath string

	mu   sync.Mutex
	prev cpuTicks
}

func NewSampler() *Sampler {
	return &Sampler{statPath: "/proc/stat", meminfoPath: "/proc/meminfo"}
}

func (s *Sampler) Sample() (HostStats, error) {
	ticks, err := readFile(s.statPath, parseCPUTicks)
	if err != nil {
		return HostStats{}, err
	}
	used, total, err := readMem(s.meminfoPath)
	if err != nil {
		return HostStats{}, err
	}

	s.mu.Lock()
	prev := s.prev
	s.prev = ticks
	s.mu.Unlock()

	out := HostStats{MemUsedBytes: used, MemTotalBytes: total}
	if prev.total > 0 {
		out.CPUBusyPercent = busyPercent(prev, ticks)
	}
	return out, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func readMem(path string) (used, total uint64, err error) {
	vals, err := readFile(path, parseMeminfo)
	if err != nil {
		return 0, 0, err
	}
	total = vals["MemTotal"]
	if total == 0 {
		return 0, 0, fmt.Errorf("%s: MemTotal missing", path)
	}
	avail := vals["MemAvailable"]
	if avail > total {
		avail = total
	}
	return total - avail, total, nil
}

func parseCPUTicks(r io.Reader) (cpuTicks, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)[1:]
		if len(parts) < 4 {
			return cpuTicks{}, fmt.Errorf("unexpected cpu line: %q", line)
		}
		var t cpuTicks
		for i, p := range parts {
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return cpuTicks{}, fmt.Errorf("parse cpu stat %q: %w", p, err)
			}
			// idle and iowait
			if i == 3 || i == 4 {
				t.idle += v
			}
			t.total += v
		}
		return t, nil
	}
	if err := s.Err(); err != nil {
		return cpuTicks{}, err
	}
	return cpuTicks{}, fmt.Errorf("cpu aggregate line not found")
}

// parseMeminfo returns every "Key: N kB" line in bytes.
func parseMeminfo(r io.Reader) (map[string]uint64, error) {
	vals := map[string]uint64{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) < 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		vals[strings.TrimSuffix(parts[0], ":")] = v * 1024
	}
	return vals, s.Err()
}

func busyPercent(prev, cur cpuTicks) float64 {
	if cur.total <= prev.total {
		return 0
	}
	total := float64(cur.total - prev.total)
	idle := 0.0
	if cur.idle > prev.idle {
		idle = float64(cur.idle - prev.idle)
	}
	usage := (total - idle) / total * 100
	switch {
	case usage < 0:
		return 0
	case usage > 100:
		return 100
	}
	return usage
}
