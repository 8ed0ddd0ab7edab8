// Package ops is the fixed catalog of host operations the bot and the
// dashboard expose. Every operation is a constant command template; caller
// supplied tokens are validated and passed as separate argv elements.
package ops

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/bdrman/bdrman/pkg/gateway"
)

const (
	DefaultBdrmanBin = "/usr/local/bin/bdrman"
	DefaultBackupDir = "/var/backups/bdrman"

	UpgradeTimeout   = 300 * time.Second
	VPNTimeout       = 60 * time.Second
	LogsTailLines    = 20
	LogsMaxOutput    = 3000
	ContainerListMax = 15

	// listMaxOutput bounds commands whose output is parsed rather than shown.
	listMaxOutput = 256 << 10
)

// Executor is the subset of the gateway the catalog needs.
type Executor interface {
	Execute(ctx context.Context, cmd gateway.Command) gateway.Result
	Spawn(ctx context.Context, cmd gateway.Command) error
}

type Options struct {
	Executor  Executor
	BdrmanBin string
	BackupDir string
	// LogFile is tailed by the dashboard's log viewer.
	LogFile string
	Stats   StatsSource
	// MaxOutput caps the combined output of multi-step operations.
	MaxOutput int
	// Probe reports whether a TCP port accepts connections; tests replace it.
	Probe func(ctx context.Context, addr string) bool
}

type Ops struct {
	exec      Executor
	bin       string
	backupDir string
	logFile   string
	stats     StatsSource
	maxOutput int
	probe     func(ctx context.Context, addr string) bool
}

func New(opts Options) *Ops {
	o := &Ops{
		exec:      opts.Executor,
		bin:       opts.BdrmanBin,
		backupDir: opts.BackupDir,
		logFile:   opts.LogFile,
		stats:     opts.Stats,
		maxOutput: opts.MaxOutput,
		probe:     opts.Probe,
	}
	if o.bin == "" {
		o.bin = DefaultBdrmanBin
	}
	if o.backupDir == "" {
		o.backupDir = DefaultBackupDir
	}
	if o.stats == nil {
		o.stats = HostStats{}
	}
	if o.maxOutput <= 0 {
		o.maxOutput = gateway.DefaultMaxOutput
	}
	if o.probe == nil {
		o.probe = dialProbe
	}
	return o
}

func (o *Ops) BackupDir() string {
	return o.backupDir
}

func dialProbe(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
