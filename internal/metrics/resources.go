package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time view of a managed process as seen by the OS.
type Resources struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	residentMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the managed process.",
		}, []string{"kind"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the managed process since it started.",
		}, []string{"kind"},
	)
	numThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "num_threads",
			Help:      "Thread count of the managed process.",
		}, []string{"kind"},
	)
)

// Sample reads OS level resource usage for pid.
func Sample(ctx context.Context, pid int) (Resources, error) {
	if pid <= 0 || pid > math.MaxInt32 {
		return Resources{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Resources{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	r := Resources{
		PID:       pid,
		MemoryRSS: memInfo.RSS,
		MemoryVMS: memInfo.VMS,
		Timestamp: time.Now(),
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		r.CPUPercent = cpu
	} else {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		r.NumThreads = n
	}
	return r, nil
}

// ObserveResources publishes r for kind.
func ObserveResources(kind string, r Resources) {
	if regOK.Load() {
		residentMemory.WithLabelValues(kind).Set(float64(r.MemoryRSS))
		cpuPercent.WithLabelValues(kind).Set(r.CPUPercent)
		numThreads.WithLabelValues(kind).Set(float64(r.NumThreads))
	}
}

// ClearResources drops the gauges of a kind that is no longer running.
func ClearResources(kind string) {
	residentMemory.DeleteLabelValues(kind)
	cpuPercent.DeleteLabelValues(kind)
	numThreads.DeleteLabelValues(kind)
}
