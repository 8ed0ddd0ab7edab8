package ops

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const progressBarWidth = 10

type Stats struct {
	Hostname    string        `json:"hostname"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemPercent  float64       `json:"memory_percent"`
	MemUsed     uint64        `json:"memory_used"`
	MemTotal    uint64        `json:"memory_total"`
	DiskPercent float64       `json:"disk_percent"`
	DiskFree    uint64        `json:"disk_free"`
	DiskTotal   uint64        `json:"disk_total"`
	Load1       float64       `json:"load1"`
	Load5       float64       `json:"load5"`
	Load15      float64       `json:"load15"`
	Uptime      time.Duration `json:"uptime"`
}

type StatsSource interface {
	Collect(ctx context.Context) (Stats, error)
}

// HostStats reads live figures from the kernel through gopsutil.
type HostStats struct {
	// CPUInterval is the CPU sampling window; zero means one second.
	CPUInterval time.Duration
}

func (h HostStats) Collect(ctx context.Context) (Stats, error) {
	var s Stats
	s.Hostname, _ = os.Hostname()

	interval := h.CPUInterval
	if interval <= 0 {
		interval = time.Second
	}
	if pct, err := cpu.PercentWithContext(ctx, interval, false); err != nil {
		return s, fmt.Errorf("cpu: %w", err)
	} else if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("memory: %w", err)
	}
	s.MemPercent, s.MemUsed, s.MemTotal = vm.UsedPercent, vm.Used, vm.Total

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return s, fmt.Errorf("disk: %w", err)
	}
	s.DiskPercent, s.DiskFree, s.DiskTotal = du.UsedPercent, du.Free, du.Total

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		s.Uptime = time.Duration(up) * time.Second
	}
	return s, nil
}

func (o *Ops) Stats(ctx context.Context) (Stats, error) {
	return o.stats.Collect(ctx)
}

// ProgressBar renders percent as a fixed-width ▓░ bar.
func ProgressBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * progressBarWidth)
	return strings.Repeat("▓", filled) + strings.Repeat("░", progressBarWidth-filled)
}

// GiB formats a byte count the way the status report shows it.
func GiB(b uint64) string {
	return fmt.Sprintf("%.2fGB", float64(b)/(1<<30))
}

// FormatUptime renders d like `uptime -p`.
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	minutes := int((d - time.Duration(hours)*time.Hour) / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return "up " + strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatStatus is the text body shared by /status and the scheduled report.
func FormatStatus(server string, s Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 System Status: %s\n\n", server)
	fmt.Fprintf(&b, "🖥 CPU: %.1f%% %s\n", s.CPUPercent, ProgressBar(s.CPUPercent))
	fmt.Fprintf(&b, "🧠 RAM: %.1f%% %s\n", s.MemPercent, ProgressBar(s.MemPercent))
	fmt.Fprintf(&b, "   Used: %s / %s\n", GiB(s.MemUsed), GiB(s.MemTotal))
	fmt.Fprintf(&b, "💾 Disk: %.1f%% %s\n", s.DiskPercent, ProgressBar(s.DiskPercent))
	fmt.Fprintf(&b, "   Free: %s\n\n", GiB(s.DiskFree))
	fmt.Fprintf(&b, "⏱ Uptime: %s\n", FormatUptime(s.Uptime))
	fmt.Fprintf(&b, "⚖️ Load: %.2f, %.2f, %.2f", s.Load1, s.Load5, s.Load15)
	return b.String()
}
