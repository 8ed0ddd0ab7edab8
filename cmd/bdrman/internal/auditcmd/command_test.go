package auditcmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/audit"
)

func setup(t *testing.T, auditDB string) *internal.Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telegram.conf")
	body := "BOT_TOKEN=\"123:abc\"\nCHAT_ID=\"123\"\nLOG_FILE=\"\"\nSESSION_SECRET=\"s3cret\"\nAUDIT_DB=\"" + auditDB + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &internal.Options{ConfigPath: path}
}

func run(t *testing.T, opts *internal.Options, args ...string) (string, error) {
	t.Helper()
	cmd := NewAuditCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	return out.String(), err
}

func TestNewAuditCommand(t *testing.T) {
	cmd := NewAuditCommand(&internal.Options{})

	require.NotNil(t, cmd)
	assert.Equal(t, "audit", cmd.Use)
	assert.True(t, cmd.HasSubCommands())

	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"verify", "tail"}, names)
}

func TestVerifyAndTail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.Open(dbPath, []byte("s3cret"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, audit.Event{
		Type: audit.EventAuthFailure, Actor: "999", Source: "telegram", Action: "authorize",
	}))
	require.NoError(t, store.Record(ctx, audit.Event{
		Type: audit.EventExecution, Actor: "123", Source: "telegram", Action: "docker restart web", Success: true,
	}))
	require.NoError(t, store.Close())

	opts := setup(t, dbPath)

	out, err := run(t, opts, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "2 events verified")

	out, err = run(t, opts, "tail", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "docker restart web")
	assert.NotContains(t, out, "authorize")
}

func TestVerify_WrongKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.Open(dbPath, []byte("other"))
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), audit.Event{
		Type: audit.EventExecution, Actor: "123", Action: "uptime", Success: true,
	}))
	require.NoError(t, store.Close())

	_, err = run(t, setup(t, dbPath), "verify")
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestAuditDisabled(t *testing.T) {
	_, err := run(t, setup(t, ""), "tail")
	assert.ErrorIs(t, err, errAuditDisabled)
}

func TestPrintEvents_Empty(t *testing.T) {
	var out bytes.Buffer
	printEvents(&out, nil)
	assert.Equal(t, "No audit events.\n", out.String())

	out.Reset()
	printEvents(&out, []audit.Event{{Timestamp: time.Now(), Type: audit.EventWebLogin, Source: "web", Actor: "10.0.0.1", Action: "login"}})
	assert.Contains(t, out.String(), "✗")
	assert.Contains(t, out.String(), "web_login")
}
