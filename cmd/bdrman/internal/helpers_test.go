package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/config"
	"github.com/bdrman/bdrman/pkg/logger"
)

func writeConfig(t *testing.T, body string) *Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telegram.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &Options{ConfigPath: path}
}

const baseConfig = `BOT_TOKEN="123:abc"
CHAT_ID="123"
SERVER_NAME="edge-01"
LOG_FILE=""
AUDIT_DB=""
`

func TestFormatVersion(t *testing.T) {
	oldVersion, oldGit := version, gitCommit
	t.Cleanup(func() { version, gitCommit = oldVersion, oldGit })

	version, gitCommit = "1.2.3", ""
	assert.Equal(t, "1.2.3", FormatVersion())

	gitCommit = "abc123"
	assert.Equal(t, "1.2.3 (git: abc123)", FormatVersion())
}

func TestFormatBuildInfo_DefaultsGoVersion(t *testing.T) {
	oldBuild, oldGo := buildTime, goVersion
	t.Cleanup(func() { buildTime, goVersion = oldBuild, oldGo })

	buildTime, goVersion = "2026-01-01T00:00:00Z", ""
	build, goVer := FormatBuildInfo()
	assert.Equal(t, "2026-01-01T00:00:00Z", build)
	assert.Equal(t, runtime.Version(), goVer)
}

func TestLoadConfig_MissingChatID(t *testing.T) {
	opts := writeConfig(t, `BOT_TOKEN="123:abc"
`)

	_, err := LoadConfig(opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingKey))

	var cerr *config.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "CHAT_ID", cerr.Key)
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { logger.SetLevel(logger.INFO) })

	cfg, err := LoadConfig(writeConfig(t, baseConfig+`LOG_LEVEL="loud"
`))
	require.NoError(t, err)
	var cerr *config.Error
	require.True(t, errors.As(SetupLogging(cfg, false), &cerr))
	assert.Equal(t, "LOG_LEVEL", cerr.Key)

	cfg.LogLevel = "warn"
	cfg.LogFile = filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, SetupLogging(cfg, true))
	t.Cleanup(logger.DisableFileLogging)
	_, err = os.Stat(cfg.LogFile)
	assert.NoError(t, err)
}

func TestNewApp_WithoutAuditTrail(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, baseConfig))
	require.NoError(t, err)

	app, err := NewApp(cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Audit)
	assert.IsType(t, audit.Nop{}, app.Recorder())
	assert.Nil(t, app.history())
	assert.True(t, app.Gateway.Authorize("123"))
	assert.False(t, app.Gateway.Authorize("999"))
	assert.NotEmpty(t, app.Definitions())
}

func TestNewApp_WithAuditTrail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	cfg, err := LoadConfig(writeConfig(t, baseConfig+`AUDIT_DB="`+dbPath+`"
`))
	require.NoError(t, err)

	app, err := NewApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Audit)
	assert.NotNil(t, app.history())

	// An unauthorized caller is recorded.
	app.Gateway.Authorize("999")
	events, err := app.Audit.Recent(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAuthFailure, events[0].Type)

	require.NoError(t, app.Close())
}

func TestNewApp_InvalidDenyPattern(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, baseConfig+`DENY_PATTERNS="("
`))
	require.NoError(t, err)

	_, err = NewApp(cfg)
	var cerr *config.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "DENY_PATTERNS", cerr.Key)
}

func TestNewDashboard_RequiresPassword(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, baseConfig))
	require.NoError(t, err)
	app, err := NewApp(cfg)
	require.NoError(t, err)

	_, err = app.NewDashboard()
	var cerr *config.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "WEB_PASSWORD", cerr.Key)

	app.Config.WebPassword = "letmein"
	srv, err := app.NewDashboard()
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

func TestNewReport(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, baseConfig))
	require.NoError(t, err)
	app, err := NewApp(cfg)
	require.NoError(t, err)

	sched, err := app.NewReport(nopNotifier{})
	require.NoError(t, err)
	assert.Nil(t, sched)

	app.Config.ReportCron = "0 8 * * *"
	sched, err = app.NewReport(nopNotifier{})
	require.NoError(t, err)
	assert.NotNil(t, sched)

	app.Config.ReportCron = "* * *"
	_, err = app.NewReport(nopNotifier{})
	var cerr *config.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "REPORT_CRON", cerr.Key)
}
