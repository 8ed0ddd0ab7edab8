package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/gateway"
	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/ops"
	"github.com/bdrman/bdrman/pkg/stepup"
)

const historyLimit = 10

// Shell runs a free-form command line after the denylist check.
type Shell interface {
	RunShell(ctx context.Context, line string) (gateway.Result, error)
}

type History interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Deps are the collaborators the built-in handlers call into.
type Deps struct {
	ServerName string
	Ops        *ops.Ops
	Shell      Shell
	StepUp     *stepup.Manager
	// History is optional; /history reports it as disabled when nil.
	History History
}

// Builtin returns the static chat command table.
func Builtin(d Deps) []Definition {
	var defs []Definition
	defs = []Definition{
		{
			Name:        "start",
			Description: "Show the welcome message",
			Category:    CategoryGeneral,
			Handler: func(_ context.Context, req Request) error {
				return reply(req, FormatHelp(fmt.Sprintf("🤖 **BDRman Bot Online** (%s)", d.ServerName), defs))
			},
		},
		{
			Name:        "help",
			Description: "List available commands",
			Category:    CategoryGeneral,
			Handler: func(_ context.Context, req Request) error {
				return reply(req, FormatHelp("", defs))
			},
		},
		{
			Name:        "cancel",
			Description: "Cancel a pending PIN confirmation",
			Category:    CategoryGeneral,
			Handler: func(_ context.Context, req Request) error {
				if d.StepUp.Cancel(req.SenderID) {
					return reply(req, "🚫 Pending operation cancelled.")
				}
				return reply(req, "Nothing to cancel.")
			},
		},
		{
			Name:        "history",
			Description: "Recent audit events",
			Category:    CategoryGeneral,
			Handler:     d.handleHistory,
		},
		{
			Name:        "status",
			Description: "System resources",
			Category:    CategoryMonitoring,
			Handler:     d.handleStatus,
		},
		{
			Name:        "resources",
			Description: "Top processes by CPU",
			Category:    CategoryMonitoring,
			Handler: func(ctx context.Context, req Request) error {
				return reply(req, FormatResult("📉 Top Processes (CPU)", d.Ops.TopProcesses(ctx)))
			},
		},
		{
			Name:        "disk",
			Description: "Disk usage",
			Category:    CategoryMonitoring,
			Handler: func(ctx context.Context, req Request) error {
				return reply(req, FormatResult("💾 Disk Usage", d.Ops.DiskUsage(ctx)))
			},
		},
		{
			Name:        "memory",
			Description: "Memory usage",
			Category:    CategoryMonitoring,
			Handler: func(ctx context.Context, req Request) error {
				return reply(req, FormatResult("🧠 Memory", d.Ops.Memory(ctx)))
			},
		},
		{
			Name:        "uptime",
			Description: "System uptime",
			Category:    CategoryMonitoring,
			Handler: func(ctx context.Context, req Request) error {
				return reply(req, FormatResult("⏱ Uptime", d.Ops.Uptime(ctx)))
			},
		},
		{
			Name:        "network",
			Description: "Connection statistics",
			Category:    CategoryMonitoring,
			Handler:     d.handleNetwork,
		},
		{
			Name:        "caprover",
			Description: "CapRover status",
			Category:    CategoryDocker,
			Handler:     d.handleCapRover,
		},
		{
			Name:        "docker",
			Description: "List containers",
			Category:    CategoryDocker,
			Handler:     d.handleDocker,
		},
		{
			Name:        "search",
			Description: "Find a container",
			Usage:       "/search <name>",
			Category:    CategoryDocker,
			Handler:     d.handleSearch,
		},
		{
			Name:        "logs",
			Description: "Recent container logs",
			Usage:       "/logs <name>",
			Category:    CategoryDocker,
			Handler:     d.handleLogs,
		},
		{
			Name:        "restart",
			Description: "Restart a container",
			Usage:       "/restart <name>",
			Category:    CategoryDocker,
			Handler:     d.containerAction("restart", "🔄 Restarting"),
		},
		{
			Name:        "startc",
			Description: "Start a container",
			Usage:       "/startc <name>",
			Category:    CategoryDocker,
			Handler:     d.containerAction("start", "▶️ Starting"),
		},
		{
			Name:        "stop",
			Description: "Stop a container",
			Usage:       "/stop <name>",
			Category:    CategoryDocker,
			Handler:     d.containerAction("stop", "⏹ Stopping"),
		},
		{
			Name:        "services",
			Description: "List systemd services",
			Category:    CategoryServices,
			Handler:     d.handleServices,
		},
		{
			Name:        "service",
			Description: "Control a systemd service",
			Usage:       "/service <start|stop|restart|status> <name>",
			Category:    CategoryServices,
			Handler:     d.handleService,
		},
		{
			Name:        "exec",
			Description: "Execute a command (careful!)",
			Usage:       "/exec <cmd>",
			Category:    CategoryServices,
			Handler:     d.handleExec,
		},
		{
			Name:        "firewall",
			Description: "Firewall rules",
			Category:    CategorySecurity,
			Handler: func(ctx context.Context, req Request) error {
				return reply(req, FormatResult("🧱 Firewall", d.Ops.Firewall(ctx)))
			},
		},
		{
			Name:        "security",
			Description: "Fail2ban and recent logins",
			Category:    CategorySecurity,
			Handler:     d.handleSecurity,
		},
		{
			Name:        "vpn",
			Description: "Provision a VPN client",
			Usage:       "/vpn <client>",
			Category:    CategorySecurity,
			Handler:     d.handleVPN,
		},
		{
			Name:        "backups",
			Description: "List backup archives",
			Category:    CategoryBackup,
			Handler:     d.handleBackups,
		},
		{
			Name:        "backup",
			Description: "Create a backup now",
			Category:    CategoryBackup,
			Handler: func(ctx context.Context, req Request) error {
				if err := reply(req, "⏳ Creating backup..."); err != nil {
					return err
				}
				return reply(req, FormatResult("📦 Backup", d.Ops.CreateBackup(ctx)))
			},
		},
		{
			Name:        "getbackup",
			Description: "Download a backup archive",
			Usage:       "/getbackup <file>",
			Category:    CategoryBackup,
			Handler:     d.handleGetBackup,
		},
		{
			Name:        "snapshot",
			Description: "Full-disk snapshot",
			Category:    CategoryCritical,
			Critical:    true,
			Handler:     d.handleSnapshot,
		},
		{
			Name:        "firewallreset",
			Description: "Emergency firewall reset",
			Category:    CategoryCritical,
			Critical:    true,
			Handler:     d.handleFirewallReset,
		},
		{
			Name:        "upgrade",
			Description: "Upgrade system packages",
			Category:    CategoryCritical,
			Critical:    true,
			Handler:     d.handleUpgrade,
		},
		{
			Name:        "panic",
			Description: "Block all traffic except SSH from one IP",
			Usage:       "/panic <ip>",
			Category:    CategoryCritical,
			Critical:    true,
			Handler:     d.handlePanic,
		},
		{
			Name:        "unpanic",
			Description: "Restore default firewall rules",
			Category:    CategoryCritical,
			Critical:    true,
			Handler:     d.handleUnpanic,
		},
	}
	return defs
}

func (d Deps) handleStatus(ctx context.Context, req Request) error {
	stats, err := d.Ops.Stats(ctx)
	if err != nil {
		return reply(req, FormatError(err))
	}
	return reply(req, ops.FormatStatus(d.ServerName, stats))
}

func (d Deps) handleNetwork(ctx context.Context, req Request) error {
	report, err := d.Ops.NetworkStats(ctx)
	if err != nil {
		return reply(req, FormatError(err))
	}
	var top strings.Builder
	for _, ip := range report.TopIPs {
		fmt.Fprintf(&top, "%7d %s\n", ip.Count, ip.IP)
	}
	if top.Len() == 0 {
		top.WriteString("none")
	}
	return reply(req, fmt.Sprintf("🌐 **Network Statistics**\n\n🔌 Active Connections: `%d`\n\n🏆 **Top Connecting IPs:**\n%s",
		report.Established, codeBlock(top.String())))
}

func (d Deps) handleSecurity(ctx context.Context, req Request) error {
	report := d.Ops.SecurityStats(ctx)
	return reply(req, fmt.Sprintf("🛡️ **Security Overview**\n\n🚫 Banned IPs (SSHD): `%s`\n\n🔑 **Last 5 Logins:**\n%s",
		report.Banned, codeBlock(report.LastLogins)))
}

func (d Deps) handleCapRover(ctx context.Context, req Request) error {
	status := d.Ops.CapRover(ctx)
	icon, text := "🔴", "Stopped"
	if status.Running {
		icon, text = "🟢", "Running"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 **CapRover Status**\n\nStatus: %s **%s**\n\n**Port Checks:**\n", icon, text)
	for _, p := range status.Ports {
		mark := "❌"
		if p.Open {
			mark = "✅"
		}
		fmt.Fprintf(&b, "Port %d: %s\n", p.Port, mark)
	}
	return reply(req, strings.TrimRight(b.String(), "\n"))
}

func formatContainers(title string, list []ops.Container) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for i, c := range list {
		if i == ops.ContainerListMax {
			fmt.Fprintf(&b, "… and %d more", len(list)-ops.ContainerListMax)
			break
		}
		icon := "🔴"
		if c.Running {
			icon = "🟢"
		}
		fmt.Fprintf(&b, "%s `%s` - %s\n", icon, c.Name, c.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d Deps) handleDocker(ctx context.Context, req Request) error {
	list, err := d.Ops.Containers(ctx)
	if err != nil {
		return reply(req, FormatError(err))
	}
	if len(list) == 0 {
		return reply(req, "No containers found.")
	}
	return reply(req, formatContainers("🐳 **Docker Containers**", list))
}

func (d Deps) handleSearch(ctx context.Context, req Request) error {
	query := req.Tail()
	if query == "" {
		return reply(req, "Usage: /search <name>")
	}
	list, err := d.Ops.SearchContainers(ctx, query)
	if err != nil {
		return reply(req, FormatError(err))
	}
	if len(list) == 0 {
		return reply(req, fmt.Sprintf("No containers found matching `%s`", query))
	}
	return reply(req, formatContainers(fmt.Sprintf("🔍 **Search results for** `%s`", query), list))
}

func (d Deps) handleLogs(ctx context.Context, req Request) error {
	args := req.Args()
	if len(args) != 1 {
		return reply(req, "Usage: /logs <container_name>")
	}
	res, err := d.Ops.ContainerLogs(ctx, args[0])
	if err != nil {
		return reply(req, FormatError(err))
	}
	return reply(req, FormatResult(fmt.Sprintf("📜 Logs for %s", args[0]), res))
}

func (d Deps) containerAction(action, progress string) Handler {
	return func(ctx context.Context, req Request) error {
		args := req.Args()
		if len(args) != 1 {
			return reply(req, fmt.Sprintf("Usage: /%s <container_name>", commandName(req.Text)))
		}
		name := args[0]
		if err := ops.ValidateContainerName(name); err != nil {
			return reply(req, FormatError(err))
		}
		if err := reply(req, fmt.Sprintf("%s `%s`...", progress, name)); err != nil {
			return err
		}

		res, err := d.Ops.ContainerAction(ctx, action, name)
		if err != nil {
			return reply(req, FormatError(err))
		}
		if res.OK() {
			return reply(req, fmt.Sprintf("✅ `%s` %s successfully!", name, pastTense(action)))
		}
		return reply(req, FormatResult(fmt.Sprintf("docker %s %s", action, name), res))
	}
}

func (d Deps) handleServices(ctx context.Context, req Request) error {
	list, err := d.Ops.Services(ctx)
	if err != nil {
		return reply(req, FormatError(err))
	}
	var b strings.Builder
	running := 0
	for _, s := range list {
		if s.Sub != "running" {
			continue
		}
		running++
		fmt.Fprintf(&b, "🟢 %s\n", strings.TrimSuffix(s.Unit, ".service"))
	}
	if running == 0 {
		return reply(req, "No running services.")
	}
	return reply(req, fmt.Sprintf("⚙️ **Running services** (%d of %d)\n%s", running, len(list), codeBlock(b.String())))
}

func (d Deps) handleService(ctx context.Context, req Request) error {
	args := req.Args()
	if len(args) != 2 {
		return reply(req, "Usage: /service <start|stop|restart|status> <name>")
	}
	res, err := d.Ops.ServiceAction(ctx, args[0], args[1])
	if err != nil {
		return reply(req, FormatError(err))
	}
	return reply(req, FormatResult(fmt.Sprintf("systemctl %s %s", args[0], args[1]), res))
}

func (d Deps) handleExec(ctx context.Context, req Request) error {
	line := req.Tail()
	if line == "" {
		return reply(req, "Usage: /exec <command>")
	}
	res, err := d.Shell.RunShell(ctx, line)
	if err != nil {
		return reply(req, FormatError(err))
	}
	return reply(req, FormatResult("💻 Output", res))
}

func (d Deps) handleVPN(ctx context.Context, req Request) error {
	args := req.Args()
	if len(args) != 1 {
		return reply(req, "Usage: /vpn <client>")
	}
	res, err := d.Ops.ProvisionVPN(ctx, args[0])
	if err != nil {
		return reply(req, FormatError(err))
	}
	return reply(req, FormatResult(fmt.Sprintf("🔐 VPN client %s", args[0]), res))
}

func (d Deps) handleBackups(_ context.Context, req Request) error {
	list, err := d.Ops.Backups()
	if err != nil {
		return reply(req, FormatError(err))
	}
	if len(list) == 0 {
		return reply(req, "No backups found.")
	}
	var b strings.Builder
	for _, bk := range list {
		fmt.Fprintf(&b, "%s  %8s  %s\n", bk.ModTime.Format("2006-01-02 15:04"), humanSize(bk.Size), bk.Name)
	}
	return reply(req, "📦 **Backups**\n"+codeBlock(b.String())+"\nDownload with /getbackup <file>")
}

func (d Deps) handleGetBackup(_ context.Context, req Request) error {
	args := req.Args()
	if len(args) != 1 {
		return reply(req, "Usage: /getbackup <file>")
	}
	path, err := d.Ops.BackupPath(args[0])
	if err != nil {
		return reply(req, FormatError(err))
	}
	if req.SendDocument == nil {
		return reply(req, "File upload is not supported here.")
	}
	return req.SendDocument(path, filepath.Base(path))
}

func (d Deps) handleHistory(ctx context.Context, req Request) error {
	if d.History == nil {
		return reply(req, "Audit history is disabled.")
	}
	events, err := d.History.Recent(ctx, historyLimit)
	if err != nil {
		return reply(req, FormatError(err))
	}
	if len(events) == 0 {
		return reply(req, "No audit events yet.")
	}
	var b strings.Builder
	for _, e := range events {
		mark := "✅"
		if !e.Success {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", e.Timestamp.Local().Format("01-02 15:04"), mark, e.Type, e.Action)
	}
	return reply(req, "🧾 **Recent activity**\n"+codeBlock(b.String()))
}

// challenge parks action behind a PIN prompt for the sender.
func (d Deps) challenge(req Request, label string, action stepup.Action) error {
	c := d.StepUp.Request(req.SenderID, label, action)
	return reply(req, c.Prompt())
}

func (d Deps) handleSnapshot(_ context.Context, req Request) error {
	return d.challenge(req, "Full-disk snapshot", func(ctx context.Context) error {
		if err := d.Ops.Snapshot(ctx); err != nil {
			return err
		}
		return reply(req, "📸 Snapshot started in the background. Check /backups later.")
	})
}

func (d Deps) handleFirewallReset(_ context.Context, req Request) error {
	return d.challenge(req, "Emergency firewall reset", func(ctx context.Context) error {
		if err := d.Ops.FirewallReset(ctx); err != nil {
			return err
		}
		return reply(req, "🧱 Firewall reset started. Only SSH will be allowed.")
	})
}

func (d Deps) handleUpgrade(_ context.Context, req Request) error {
	return d.challenge(req, "System upgrade", func(context.Context) error {
		go func() {
			start := time.Now()
			res := d.Ops.Upgrade(context.Background())
			msg := FormatResult(fmt.Sprintf("⬆️ System upgrade (%s)", time.Since(start).Round(time.Second)), res)
			if err := reply(req, msg); err != nil {
				logger.WarnCF("commands", "Failed to deliver upgrade result", map[string]any{
					"sender": req.SenderID,
					"error":  err.Error(),
				})
			}
		}()
		return reply(req, "⬆️ System upgrade started. The result will be posted here.")
	})
}

func (d Deps) handlePanic(_ context.Context, req Request) error {
	args := req.Args()
	if len(args) != 1 {
		return reply(req, "⚠️ Usage: /panic <YOUR_IP>\nThis will BLOCK ALL TRAFFIC except SSH from your IP.")
	}
	ip, err := ops.ParseIP(args[0])
	if err != nil {
		return reply(req, FormatError(err))
	}

	return d.challenge(req, fmt.Sprintf("Panic mode for %s", ip), func(ctx context.Context) error {
		if err := reply(req, fmt.Sprintf("🚨 ACTIVATING PANIC MODE for IP: `%s`...", ip)); err != nil {
			return err
		}
		res, err := d.Ops.Panic(ctx, ip)
		if err != nil {
			return err
		}
		if !res.OK() {
			return reply(req, FormatResult("Failed to activate Panic Mode", res))
		}
		return reply(req, fmt.Sprintf("✅ PANIC MODE ACTIVE. Only `%s` can access via SSH.", ip))
	})
}

func (d Deps) handleUnpanic(_ context.Context, req Request) error {
	return d.challenge(req, "Deactivate panic mode", func(ctx context.Context) error {
		if err := reply(req, "🟢 Deactivating Panic Mode..."); err != nil {
			return err
		}
		res := d.Ops.Unpanic(ctx)
		if !res.OK() {
			return reply(req, FormatResult("Failed to deactivate", res))
		}
		return reply(req, "✅ Panic Mode Deactivated. Default rules restored.")
	})
}

func commandName(text string) string {
	name, _ := parseCommandName(text)
	return name
}

func pastTense(action string) string {
	switch action {
	case "stop":
		return "stopped"
	case "start":
		return "started"
	default:
		return action + "ed"
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}
