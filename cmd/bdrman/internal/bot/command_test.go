package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
)

func TestNewBotCommand(t *testing.T) {
	cmd := NewBotCommand(&internal.Options{})

	require.NotNil(t, cmd)
	assert.Equal(t, "bot", cmd.Use)
	assert.Equal(t, "Run the Telegram bot", cmd.Short)
	assert.True(t, cmd.HasAlias("b"))
	assert.False(t, cmd.HasFlags())
	assert.False(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.RunE)
	assert.Nil(t, cmd.Run)
}
