package status

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/config"
)

func TestNewStatusCommand(t *testing.T) {
	cmd := NewStatusCommand(&internal.Options{})

	require.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Use)
	assert.True(t, cmd.HasAlias("s"))
	assert.Equal(t, "Show host status", cmd.Short)
	assert.False(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.RunE)
}

func TestStatusCommand_ConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram.conf")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_ID=\"123\"\n"), 0o600))

	cmd := NewStatusCommand(&internal.Options{ConfigPath: path})
	cmd.SetArgs(nil)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingKey))
}
