package ops

import (
	"context"
	"strings"
	"time"

	"github.com/bdrman/bdrman/pkg/gateway"
)

// firewallResetScript restores a deny-by-default policy that keeps SSH open.
// It takes no caller input.
const firewallResetScript = "ufw --force reset && ufw default deny incoming && " +
	"ufw default allow outgoing && ufw allow ssh && ufw --force enable"

func panicSequence(ip string) []gateway.Command {
	return []gateway.Command{
		gateway.Cmd("ufw", "--force", "reset"),
		gateway.Cmd("ufw", "default", "deny", "incoming"),
		gateway.Cmd("ufw", "default", "allow", "outgoing"),
		gateway.Cmd("ufw", "allow", "from", ip, "to", "any", "port", "22", "proto", "tcp"),
		gateway.Cmd("ufw", "--force", "enable"),
	}
}

var unpanicSequence = []gateway.Command{
	gateway.Cmd("ufw", "--force", "reset"),
	gateway.Cmd("ufw", "default", "deny", "incoming"),
	gateway.Cmd("ufw", "default", "allow", "outgoing"),
	gateway.Cmd("ufw", "allow", "ssh"),
	gateway.Cmd("ufw", "allow", "80/tcp"),
	gateway.Cmd("ufw", "allow", "443/tcp"),
	gateway.Cmd("ufw", "allow", "3000/tcp"),
	gateway.Cmd("ufw", "--force", "enable"),
}

// Panic locks the firewall down to SSH from a single trusted address.
func (o *Ops) Panic(ctx context.Context, ip string) (gateway.Result, error) {
	canonical, err := ParseIP(ip)
	if err != nil {
		return gateway.Result{}, err
	}
	return o.runSequence(ctx, panicSequence(canonical)), nil
}

// Unpanic restores the default rule set (SSH, HTTP, HTTPS, CapRover).
func (o *Ops) Unpanic(ctx context.Context) gateway.Result {
	return o.runSequence(ctx, unpanicSequence)
}

// FirewallReset launches the emergency reset detached and returns immediately.
func (o *Ops) FirewallReset(ctx context.Context) error {
	return o.exec.Spawn(ctx, gateway.Shell(firewallResetScript))
}

// runSequence executes cmds in order and stops at the first one that does not
// succeed. The returned result describes that command, with every step's
// output concatenated and capped at the catalog's MaxOutput.
func (o *Ops) runSequence(ctx context.Context, cmds []gateway.Command) gateway.Result {
	var (
		outputs   []string
		last      gateway.Result
		elapsed   time.Duration
		truncated bool
	)
	for _, cmd := range cmds {
		last = o.exec.Execute(ctx, cmd)
		elapsed += last.Duration
		truncated = truncated || last.Truncated
		if last.Output != gateway.NoOutput {
			outputs = append(outputs, strings.TrimRight(last.Output, "\n"))
		}
		if !last.OK() {
			break
		}
	}
	last.Duration = elapsed
	joined := strings.Join(outputs, "\n")
	if joined == "" {
		last.Output = gateway.NoOutput
		last.Truncated = truncated
		return last
	}
	var cut bool
	last.Output, cut = gateway.BoundHead(joined, o.maxOutput)
	last.Truncated = truncated || cut
	return last
}
