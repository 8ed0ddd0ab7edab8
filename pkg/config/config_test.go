package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/pkg/gateway"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telegram.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func stubHostname(t *testing.T, name string) {
	t.Helper()
	prev := ResolveHostname
	ResolveHostname = func() string { return name }
	t.Cleanup(func() { ResolveHostname = prev })
}

func TestLoad_Defaults(t *testing.T) {
	stubHostname(t, "edge-01")
	path := writeConfig(t, `BOT_TOKEN="123:abc"
CHAT_ID="123"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, "123", cfg.ChatID)
	assert.Equal(t, DefaultPIN, cfg.PIN)
	assert.Equal(t, "edge-01", cfg.ServerName)
	assert.Equal(t, "0.0.0.0:8443", cfg.WebListen)
	assert.Equal(t, 60*time.Second, cfg.ChallengeTTLDuration())
	assert.Equal(t, 30*time.Second, cfg.CommandTimeoutDuration())
	assert.Equal(t, 3500, cfg.MaxOutput)
	assert.Empty(t, cfg.ReportCron)
	assert.Equal(t, DefaultLogFile, cfg.LogFile)
	assert.Equal(t, DefaultAuditDB, cfg.AuditDB)
}

func TestLoad_EmptyPathsDisable(t *testing.T) {
	stubHostname(t, "edge-01")
	path := writeConfig(t, `BOT_TOKEN="123:abc"
CHAT_ID="123"
LOG_FILE=""
AUDIT_DB=""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Empty(t, cfg.LogFile)
	assert.Empty(t, cfg.AuditDB)
}

func TestLoad_AllKeys(t *testing.T) {
	stubHostname(t, "unused")
	path := writeConfig(t, `# bdrman
BOT_TOKEN="123:abc"
CHAT_ID="42"
PIN_CODE="9876"
SERVER_NAME="prod-db"
WEB_PASSWORD="letmein"
CHALLENGE_TTL="120"
DENY_PATTERNS='\bshred\b,\btruncate\b'
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9876", cfg.PIN)
	assert.Equal(t, "prod-db", cfg.ServerName)
	assert.Equal(t, 2*time.Minute, cfg.ChallengeTTLDuration())
	assert.Equal(t, []string{`\bshred\b`, `\btruncate\b`}, cfg.DenyPatterns)
	assert.NoError(t, cfg.ValidateWeb())
}

func TestLoad_EmptyPINFallsBack(t *testing.T) {
	stubHostname(t, "h")
	path := writeConfig(t, "BOT_TOKEN=\"t\"\nCHAT_ID=\"1\"\nPIN_CODE=\"\"\nSERVER_NAME=\"\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPIN, cfg.PIN)
	assert.Equal(t, "h", cfg.ServerName)
}

func TestLoad_MissingMandatoryKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
	}{
		{"no chat id", `BOT_TOKEN="123:abc"`, "CHAT_ID"},
		{"no token", `CHAT_ID="123"`, "BOT_TOKEN"},
		{"blank token", "BOT_TOKEN=\"  \"\nCHAT_ID=\"1\"", "BOT_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingKey))

			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.key, cerr.Key)
			assert.NotEmpty(t, cerr.Path)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	stubHostname(t, "h")
	t.Setenv("BDRMAN_PIN_CODE", "5555")
	t.Setenv("BDRMAN_CHAT_ID", "777")
	path := writeConfig(t, "BOT_TOKEN=\"t\"\nCHAT_ID=\"1\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "5555", cfg.PIN)
	assert.Equal(t, "777", cfg.ChatID)
}

func TestParse_InvalidNumbers(t *testing.T) {
	stubHostname(t, "h")
	base := map[string]string{"BOT_TOKEN": "t", "CHAT_ID": "1"}

	bad := map[string]string{"MAX_OUTPUT": "lots"}
	for k, v := range base {
		bad[k] = v
	}
	_, err := Parse(bad)
	assert.Error(t, err)

	zero := map[string]string{"CHALLENGE_TTL": "0"}
	for k, v := range base {
		zero[k] = v
	}
	_, err = Parse(zero)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "CHALLENGE_TTL", cerr.Key)
}

func TestValidateWeb(t *testing.T) {
	cfg := &Config{}
	assert.True(t, errors.Is(cfg.ValidateWeb(), ErrMissingKey))
}

type hostnameRunner struct {
	capture gateway.Capture
	err     error
	ran     []string
}

func (r *hostnameRunner) Run(_ context.Context, cmd gateway.Command) (gateway.Capture, error) {
	r.ran = append(r.ran, cmd.String())
	return r.capture, r.err
}

func (r *hostnameRunner) Start(gateway.Command) error { return nil }

func TestResolveHostname(t *testing.T) {
	failing := func() (string, error) { return "", errors.New("uname failed") }

	r := &hostnameRunner{}
	assert.Equal(t, "edge-01", resolveHostname(func() (string, error) { return " edge-01\n", nil }, r))
	assert.Empty(t, r.ran)

	r = &hostnameRunner{capture: gateway.Capture{Output: []byte("edge-02\n")}}
	assert.Equal(t, "edge-02", resolveHostname(failing, r))
	assert.Equal(t, []string{"hostname"}, r.ran)

	r = &hostnameRunner{capture: gateway.Capture{ExitCode: 1}}
	assert.Equal(t, "server", resolveHostname(failing, r))

	r = &hostnameRunner{err: errors.New("exec: not found")}
	assert.Equal(t, "server", resolveHostname(failing, r))
}
