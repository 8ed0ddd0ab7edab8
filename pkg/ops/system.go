package ops

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/bdrman/bdrman/pkg/gateway"
)

const topProcessLines = 6

func (o *Ops) Uptime(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Cmd("uptime", "-p"))
}

func (o *Ops) DiskUsage(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Cmd("df", "-h", "-x", "tmpfs", "-x", "devtmpfs"))
}

func (o *Ops) Memory(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Cmd("free", "-h"))
}

// TopProcesses returns the header plus the five busiest processes by CPU.
func (o *Ops) TopProcesses(ctx context.Context) gateway.Result {
	res := o.exec.Execute(ctx, gateway.Cmd("ps", "-eo", "pid,ppid,cmd,%mem,%cpu", "--sort=-%cpu").
		WithMaxOutput(listMaxOutput))
	if !res.OK() {
		return res
	}
	lines := strings.Split(strings.TrimRight(res.Output, "\n"), "\n")
	if len(lines) > topProcessLines {
		lines = lines[:topProcessLines]
	}
	res.Output = strings.Join(lines, "\n")
	res.Truncated = false
	return res
}

func (o *Ops) Firewall(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Cmd("ufw", "status", "numbered"))
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

type NetworkReport struct {
	Established int       `json:"established"`
	TopIPs      []IPCount `json:"top_ips"`
}

const topIPLimit = 10

// NetworkStats counts established connections and the busiest remote peers.
func (o *Ops) NetworkStats(ctx context.Context) (NetworkReport, error) {
	res := o.exec.Execute(ctx, gateway.Cmd("netstat", "-ntu").WithMaxOutput(listMaxOutput))
	if err := res.Err(); err != nil {
		return NetworkReport{}, err
	}
	return parseNetstat(res.Output), nil
}

func parseNetstat(out string) NetworkReport {
	var report NetworkReport
	counts := make(map[string]int)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !(strings.HasPrefix(fields[0], "tcp") || strings.HasPrefix(fields[0], "udp")) {
			continue
		}
		if len(fields) >= 6 && fields[5] == "ESTABLISHED" {
			report.Established++
		}
		if ip := hostOf(fields[4]); ip != "" {
			counts[ip]++
		}
	}

	for ip, n := range counts {
		report.TopIPs = append(report.TopIPs, IPCount{IP: ip, Count: n})
	}
	sort.Slice(report.TopIPs, func(i, j int) bool {
		if report.TopIPs[i].Count != report.TopIPs[j].Count {
			return report.TopIPs[i].Count > report.TopIPs[j].Count
		}
		return report.TopIPs[i].IP < report.TopIPs[j].IP
	})
	if len(report.TopIPs) > topIPLimit {
		report.TopIPs = report.TopIPs[:topIPLimit]
	}
	return report
}

// hostOf strips the trailing :port from a netstat address column.
func hostOf(addr string) string {
	i := strings.LastIndex(addr, ":")
	if i <= 0 {
		return ""
	}
	host := addr[:i]
	if host == "0.0.0.0" || host == "::" || host == "*" {
		return ""
	}
	return host
}

type SecurityReport struct {
	// Banned is the fail2ban sshd jail count, or "Not Installed".
	Banned     string `json:"banned"`
	LastLogins string `json:"last_logins"`
}

var bannedRe = regexp.MustCompile(`Currently banned:\s*(\d+)`)

func (o *Ops) SecurityStats(ctx context.Context) SecurityReport {
	report := SecurityReport{Banned: "Not Installed"}

	f2b := o.exec.Execute(ctx, gateway.Cmd("fail2ban-client", "status", "sshd"))
	switch {
	case f2b.OK():
		if m := bannedRe.FindStringSubmatch(f2b.Output); m != nil {
			report.Banned = m[1]
		} else {
			report.Banned = "unknown"
		}
	case f2b.TimedOut || f2b.ExitCode != -1:
		report.Banned = "unavailable"
	}

	last := o.exec.Execute(ctx, gateway.Cmd("last", "-n", "5", "-a"))
	report.LastLogins = last.Output
	return report
}
