package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ChildSample is one resource reading of the current child.
type ChildSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChildSampler periodically reads CPU and memory of whatever process the
// pid func reports. A pid of zero or less means no child is running.
type ChildSampler struct {
	interval time.Duration
	log      *slog.Logger

	rss prometheus.Gauge
	cpu prometheus.Gauge

	mu   sync.Mutex
	proc *process.Process
	last ChildSample
}

func NewChildSampler(interval time.Duration, log *slog.Logger) *ChildSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ChildSampler{
		interval: interval,
		log:      log,
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "child", Name: "rss_bytes",
			Help: "Resident memory of the current child.",
		}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "child", Name: "cpu_percent",
			Help: "CPU usage of the current child.",
		}),
	}
}

func (c *ChildSampler) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.rss, c.cpu}
}

// Run samples until ctx is done.
func (c *ChildSampler) Run(ctx context.Context, pid func() int) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Sample(pid()); err != nil {
				c.log.Debug("child sample failed", "error", err)
			}
		}
	}
}

// Sample takes one reading of pid and updates the gauges. Gauges are reset
// when there is no child.
func (c *ChildSampler) Sample(pid int) (ChildSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pid <= 0 {
		c.proc = nil
		c.last = ChildSample{}
		c.rss.Set(0)
		c.cpu.Set(0)
		return ChildSample{}, nil
	}
	// Reuse the handle so CPUPercent measures since the previous sample.
	if c.proc == nil || c.proc.Pid != int32(pid) {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			c.proc = nil
			return ChildSample{}, fmt.Errorf("open pid %d: %w", pid, err)
		}
		c.proc = p
	}
	mem, err := c.proc.MemoryInfo()
	if err != nil {
		return ChildSample{}, fmt.Errorf("memory of pid %d: %w", pid, err)
	}
	cpu, err := c.proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	threads, _ := c.proc.NumThreads()
	s := ChildSample{PID: int32(pid), CPUPercent: cpu, RSSBytes: mem.RSS, NumThreads: threads, Timestamp: time.Now()}
	c.rss.Set(float64(mem.RSS))
	c.cpu.Set(cpu)
	c.last = s
	return s, nil
}

// Last returns the most recent sample.
func (c *ChildSampler) Last() ChildSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
