package internal

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/channels/telegram"
	"github.com/bdrman/bdrman/pkg/commands"
	"github.com/bdrman/bdrman/pkg/config"
	"github.com/bdrman/bdrman/pkg/dashboard"
	"github.com/bdrman/bdrman/pkg/gateway"
	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/ops"
	"github.com/bdrman/bdrman/pkg/redaction"
	"github.com/bdrman/bdrman/pkg/report"
	"github.com/bdrman/bdrman/pkg/stepup"
)

const Logo = "🛡️"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// Options holds the root persistent flags.
type Options struct {
	ConfigPath string
	Debug      bool
}

// LoadConfig reads the settings file and registers its secrets for redaction.
func LoadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	redaction.AddSecrets(cfg.Secrets()...)
	return cfg, nil
}

// SetupLogging applies LOG_LEVEL (or --debug) and mirrors log lines to
// LOG_FILE. A log file that cannot be opened is reported but does not stop
// the process.
func SetupLogging(cfg *config.Config, debug bool) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return &config.Error{Key: "LOG_LEVEL", Err: err}
	}
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)

	if cfg.LogFile == "" {
		return nil
	}
	if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
		logger.WarnCF("bdrman", "File logging disabled", map[string]any{
			"path":  cfg.LogFile,
			"error": err.Error(),
		})
	}
	return nil
}

// App is the shared core both adapters are built on.
type App struct {
	Config  *config.Config
	Audit   *audit.SQLiteStore
	Gateway *gateway.Gateway
	Ops     *ops.Ops
	StepUp  *stepup.Manager
}

// NewApp wires the audit trail, the command gateway, the operations catalog
// and the PIN challenge manager from cfg.
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if cfg.AuditDB != "" {
		store, err := audit.Open(cfg.AuditDB, []byte(cfg.SessionSecret))
		if err != nil {
			return nil, fmt.Errorf("opening audit trail: %w", err)
		}
		app.Audit = store
	}

	gw, err := gateway.New(gateway.Options{
		Identity:     cfg.ChatID,
		Timeout:      cfg.CommandTimeoutDuration(),
		MaxOutput:    cfg.MaxOutput,
		DenyPatterns: cfg.DenyPatterns,
		Recorder:     app.Recorder(),
	})
	if err != nil {
		app.Close()
		return nil, &config.Error{Key: "DENY_PATTERNS", Err: err}
	}
	app.Gateway = gw

	app.Ops = ops.New(ops.Options{
		Executor:  gw,
		BdrmanBin: cfg.BdrmanBin,
		BackupDir: cfg.BackupDir,
		LogFile:   cfg.LogFile,
		MaxOutput: cfg.MaxOutput,
	})
	app.StepUp = stepup.New(stepup.Options{
		PIN:      cfg.PIN,
		TTL:      cfg.ChallengeTTLDuration(),
		Recorder: app.Recorder(),
	})
	return app, nil
}

// Recorder returns the audit trail, or a no-op recorder when AUDIT_DB is empty.
func (a *App) Recorder() audit.Recorder {
	if a.Audit == nil {
		return audit.Nop{}
	}
	return a.Audit
}

func (a *App) history() commands.History {
	if a.Audit == nil {
		return nil
	}
	return a.Audit
}

func (a *App) Definitions() []commands.Definition {
	return commands.Builtin(commands.Deps{
		ServerName: a.Config.ServerName,
		Ops:        a.Ops,
		Shell:      a.Gateway,
		StepUp:     a.StepUp,
		History:    a.history(),
	})
}

func (a *App) NewBot() (*telegram.Channel, error) {
	return telegram.New(telegram.Options{
		Token:       a.Config.BotToken,
		ChatID:      a.Config.ChatID,
		Authorizer:  a.Gateway,
		StepUp:      a.StepUp,
		Definitions: a.Definitions(),
	})
}

func (a *App) NewDashboard() (*dashboard.Server, error) {
	if err := a.Config.ValidateWeb(); err != nil {
		return nil, err
	}
	opts := dashboard.Options{
		Password:      a.Config.WebPassword,
		SessionSecret: a.Config.SessionSecret,
		ServerName:    a.Config.ServerName,
		Ops:           a.Ops,
		Recorder:      a.Recorder(),
	}
	if a.Audit != nil {
		opts.History = a.Audit
	}
	return dashboard.New(opts)
}

// NewReport returns nil when REPORT_CRON is unset.
func (a *App) NewReport(n report.Notifier) (*report.Scheduler, error) {
	if a.Config.ReportCron == "" {
		return nil, nil
	}
	s, err := report.New(report.Options{
		Expr:       a.Config.ReportCron,
		ServerName: a.Config.ServerName,
		Source:     a.Ops,
		Notifier:   n,
	})
	if err != nil {
		if errors.Is(err, report.ErrInvalidExpression) {
			return nil, &config.Error{Key: "REPORT_CRON", Err: err}
		}
		return nil, err
	}
	return s, nil
}

func (a *App) Close() error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Close()
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// Start loads the configuration and builds the core. Any configuration error
// is returned before a transport is bound.
func Start(opts *Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := SetupLogging(cfg, opts.Debug); err != nil {
		return nil, err
	}
	return NewApp(cfg)
}

// RunBot long-polls the chat and, when REPORT_CRON is set, pushes scheduled
// reports until ctx is cancelled.
func (a *App) RunBot(ctx context.Context) error {
	bot, err := a.NewBot()
	if err != nil {
		return err
	}
	sched, err := a.NewReport(bot)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Start(ctx) })
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}

	logger.InfoCF("bdrman", "Bot started", map[string]any{
		"server": a.Config.ServerName,
		"report": a.Config.ReportCron,
	})
	return g.Wait()
}

func (a *App) RunWeb(ctx context.Context) error {
	srv, err := a.NewDashboard()
	if err != nil {
		return err
	}
	return srv.Run(ctx, a.Config.WebListen)
}
