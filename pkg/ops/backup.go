package ops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/bdrman/bdrman/pkg/gateway"
)

// ErrNotAllowed is returned for dashboard commands outside the allow-list.
var ErrNotAllowed = errors.New("command not allowed")

// upgradeScript is a constant pipeline; it takes no caller input.
const upgradeScript = "export DEBIAN_FRONTEND=noninteractive; apt-get update && apt-get -y upgrade"

// AllowedCommands are the bdrman subcommands the dashboard may run.
var AllowedCommands = map[string][]string{
	"status":         {"status"},
	"backup create":  {"backup", "create"},
	"metrics report": {"metrics", "report"},
}

type Backup struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backups lists archives in the backup directory, newest first. A missing
// directory is an empty list.
func (o *Ops) Backups() ([]Backup, error) {
	entries, err := os.ReadDir(o.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var list []Backup
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		list = append(list, Backup{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ModTime.After(list[j].ModTime)
	})
	return list, nil
}

// BackupPath resolves a bare archive name to a regular file inside the backup directory.
func (o *Ops) BackupPath(name string) (string, error) {
	if err := ValidateBackupFile(name); err != nil {
		return "", err
	}
	path := filepath.Join(o.backupDir, name)
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("backup %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("backup %q: not a regular file: %w", name, gateway.ErrInvalidArgument)
	}
	return path, nil
}

func (o *Ops) CreateBackup(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Cmd(o.bin, "backup", "create").WithTimeout(UpgradeTimeout))
}

// RunAllowed runs one of AllowedCommands through the host bdrman CLI.
func (o *Ops) RunAllowed(ctx context.Context, name string) (gateway.Result, error) {
	args, ok := AllowedCommands[name]
	if !ok {
		return gateway.Result{}, fmt.Errorf("%q: %w", name, ErrNotAllowed)
	}
	cmd := gateway.Cmd(o.bin, args...)
	if name == "backup create" {
		cmd = cmd.WithTimeout(UpgradeTimeout)
	}
	return o.exec.Execute(ctx, cmd), nil
}

// ProvisionVPN creates a VPN client profile through the host bdrman CLI.
func (o *Ops) ProvisionVPN(ctx context.Context, client string) (gateway.Result, error) {
	if err := ValidateVPNClient(client); err != nil {
		return gateway.Result{}, err
	}
	return o.exec.Execute(ctx, gateway.Cmd(o.bin, "vpn", "add", client).WithTimeout(VPNTimeout)), nil
}

// Snapshot starts a full-disk snapshot detached.
func (o *Ops) Snapshot(ctx context.Context) error {
	return o.exec.Spawn(ctx, gateway.Cmd(o.bin, "snapshot", "create"))
}

// Upgrade runs the package upgrade to completion, bounded by UpgradeTimeout.
// Callers run it off the request path.
func (o *Ops) Upgrade(ctx context.Context) gateway.Result {
	return o.exec.Execute(ctx, gateway.Shell(upgradeScript).WithTimeout(UpgradeTimeout))
}

// LogTail returns the last lines of the service log file.
func (o *Ops) LogTail(ctx context.Context, lines int) gateway.Result {
	if o.logFile == "" {
		return gateway.Result{Output: "No logs"}
	}
	return o.exec.Execute(ctx, gateway.Cmd("tail", "-n", strconv.Itoa(lines), o.logFile).
		WithMaxOutput(64<<10).
		Tail())
}
