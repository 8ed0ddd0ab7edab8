package telegram

import (
	"context"
	"regexp"

	"github.com/mymmrac/telego"

	"github.com/bdrman/bdrman/pkg/commands"
	"github.com/bdrman/bdrman/pkg/logger"
)

// Bot API limits for setMyCommands.
const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

var menuCommandName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// commandMenu converts the table into the client-side command menu. Entries
// Telegram would reject are left out; critical commands are marked.
func commandMenu(defs []commands.Definition) []telego.BotCommand {
	menu := make([]telego.BotCommand, 0, len(defs))
	for _, def := range defs {
		if !menuCommandName.MatchString(def.Name) || def.Description == "" {
			continue
		}
		desc := def.Description
		if def.Critical {
			desc += " (PIN)"
		}
		if r := []rune(desc); len(r) > maxMenuDescription {
			desc = string(r[:maxMenuDescription])
		}
		menu = append(menu, telego.BotCommand{Command: def.Name, Description: desc})
		if len(menu) == maxMenuCommands {
			break
		}
	}
	return menu
}

// RegisterCommands publishes the command menu shown by Telegram clients.
func (c *Channel) RegisterCommands(ctx context.Context, menu []telego.BotCommand) error {
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: menu})
}

// startCommandRegistration publishes the menu once in the background so
// polling never waits on it. A failure only leaves the client menu stale.
func (c *Channel) startCommandRegistration(ctx context.Context, defs []commands.Definition) {
	menu := commandMenu(defs)
	if len(menu) == 0 {
		return
	}
	register := c.registerFunc
	if register == nil {
		register = c.RegisterCommands
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := register(ctx, menu); err != nil {
			logger.WarnCF("telegram", "Command menu registration failed", map[string]any{"error": err.Error()})
			return
		}
		logger.InfoCF("telegram", "Command menu registered", map[string]any{"count": len(menu)})
	}()
}
