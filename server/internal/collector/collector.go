// Package collector samples host resource usage with gopsutil and records it
// as named metrics.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/obsidianstack/appmonitor/server/internal/config"
)

// Named metrics written by the collector.
const (
	MetricCPUPercent        = "system.cpuPercent"
	MetricMemoryUsedPercent = "system.memoryUsedPercent"
	MetricDiskUsedPercent   = "system.diskUsedPercent"
)

// Recorder receives samples. *monitor.Service satisfies it.
type Recorder interface {
	RecordMetric(name string, value float64, tags map[string]string)
}

// Sampler reads one value. Errors skip the sample for that cycle.
type Sampler func(ctx context.Context) (float64, error)

// Collector records one metric per sampler on every cycle.
type Collector struct {
	rec      Recorder
	samplers map[string]Sampler
}

// New returns a Collector sampling CPU, memory and root-disk usage.
func New(rec Recorder) *Collector {
	return &Collector{
		rec: rec,
		samplers: map[string]Sampler{
			MetricCPUPercent:        cpuPercent,
			MetricMemoryUsedPercent: memoryUsedPercent,
			MetricDiskUsedPercent:   diskUsedPercent,
		},
	}
}

// Run samples every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultCollectorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one sample from every sampler and returns how many were
// recorded.
func (c *Collector) Collect(ctx context.Context) int {
	var n int
	for name, sample := range c.samplers {
		v, err := sample(ctx)
		if err != nil {
			slog.Debug("collector: sample failed", "metric", name, "err", err)
			continue
		}
		c.rec.RecordMetric(name, v, map[string]string{"source": "host"})
		n++
	}
	return n
}

func cpuPercent(ctx context.Context) (float64, error) {
	// Interval 0 compares against the previous call instead of blocking.
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func memoryUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func diskUsedPercent(ctx context.Context) (float64, error) {
	u, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}
