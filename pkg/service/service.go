// Package service installs bdrman-bot as a systemd unit on the managed host.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bdrman/bdrman/pkg/gateway"
	"github.com/bdrman/bdrman/pkg/logger"
)

const (
	DefaultUnitName = "bdrman-bot.service"
	DefaultUnitDir  = "/etc/systemd/system"

	systemctlTimeout = 12 * time.Second
)

var ErrNotInstalled = errors.New("service is not installed; run `bdrman-bot service install`")

// Status captures installation and runtime state of the unit.
type Status struct {
	Installed bool
	Enabled   bool
	Running   bool
	Detail    string
}

type Options struct {
	// ExePath is the binary ExecStart runs.
	ExePath    string
	ConfigPath string
	// Mode is the subcommand the unit runs: "serve", "bot" or "web".
	Mode    string
	UnitDir string
	Runner  gateway.Runner
}

type Manager struct {
	exePath    string
	configPath string
	mode       string
	unitPath   string
	runner     gateway.Runner
}

func NewManager(opts Options) (*Manager, error) {
	exePath := strings.TrimSpace(opts.ExePath)
	if exePath == "" {
		return nil, errors.New("executable path is empty")
	}
	m := &Manager{
		exePath:    exePath,
		configPath: opts.ConfigPath,
		mode:       opts.Mode,
		unitPath:   filepath.Join(opts.UnitDir, DefaultUnitName),
		runner:     opts.Runner,
	}
	if opts.UnitDir == "" {
		m.unitPath = filepath.Join(DefaultUnitDir, DefaultUnitName)
	}
	switch m.mode {
	case "":
		m.mode = "serve"
	case "serve", "bot", "web":
	default:
		return nil, fmt.Errorf("unknown service mode %q", m.mode)
	}
	if m.runner == nil {
		m.runner = gateway.ProcessRunner{}
	}
	return m, nil
}

func (m *Manager) UnitPath() string { return m.unitPath }

// Install writes the unit, reloads systemd and enables it.
func (m *Manager) Install(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.unitPath), 0o755); err != nil {
		return err
	}
	unit := renderSystemdUnit(m.exePath, m.configPath, m.mode)
	changed, err := writeFileIfChanged(m.unitPath, []byte(unit), 0o644)
	if err != nil {
		return err
	}
	if changed {
		logger.InfoCF("service", "Unit written", map[string]any{"path": m.unitPath})
	}
	if err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	return m.systemctl(ctx, "enable", DefaultUnitName)
}

func (m *Manager) Uninstall(ctx context.Context) error {
	_ = m.systemctl(ctx, "disable", "--now", DefaultUnitName)
	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return m.systemctl(ctx, "daemon-reload")
}

func (m *Manager) Start(ctx context.Context) error {
	if err := m.requireInstalled(); err != nil {
		return err
	}
	return m.systemctl(ctx, "start", DefaultUnitName)
}

func (m *Manager) Stop(ctx context.Context) error {
	return m.systemctl(ctx, "stop", DefaultUnitName)
}

func (m *Manager) Restart(ctx context.Context) error {
	if err := m.requireInstalled(); err != nil {
		return err
	}
	return m.systemctl(ctx, "restart", DefaultUnitName)
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{}
	if _, err := os.Stat(m.unitPath); err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	st.Installed = true

	if out, code, err := m.run(ctx, "is-enabled", DefaultUnitName); err == nil {
		st.Enabled = code == 0 && strings.TrimSpace(out) == "enabled"
	}
	out, code, err := m.run(ctx, "is-active", DefaultUnitName)
	if err != nil {
		return st, err
	}
	st.Running = code == 0 && strings.TrimSpace(out) == "active"
	st.Detail = strings.TrimSpace(out)
	return st, nil
}

func (m *Manager) requireInstalled() error {
	if _, err := os.Stat(m.unitPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotInstalled
		}
		return err
	}
	return nil
}

func (m *Manager) systemctl(ctx context.Context, args ...string) error {
	out, code, err := m.run(ctx, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("systemctl %s failed: %s", args[0], oneLine(out))
	}
	return nil
}

func (m *Manager) run(ctx context.Context, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, systemctlTimeout)
	defer cancel()
	capture, err := m.runner.Run(ctx, gateway.Cmd("systemctl", args...))
	if err != nil {
		return "", 0, fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	return string(capture.Output), capture.ExitCode, nil
}

func writeFileIfChanged(path string, data []byte, perm os.FileMode) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	return true, os.WriteFile(path, data, perm)
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no output"
	}
	return s
}
