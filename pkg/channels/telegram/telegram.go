// Package telegram is the chat adapter: it long-polls the Bot API, rejects
// every sender except the configured one and routes messages either to the
// pending PIN challenge or to the command table.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/bdrman/bdrman/pkg/commands"
	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/stepup"
)

// botAPI is the subset of *telego.Bot the adapter calls.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error
}

type Authorizer interface {
	Authorize(caller string) bool
}

type Options struct {
	Token string
	// ChatID is the admin's user id and the target of Notify.
	ChatID      string
	Authorizer  Authorizer
	StepUp      *stepup.Manager
	Definitions []commands.Definition
}

type Channel struct {
	bot          botAPI
	poller       *telego.Bot
	chatID       int64
	auth         Authorizer
	stepUp       *stepup.Manager
	defs         []commands.Definition
	dispatcher   commands.Dispatching
	registerFunc func(context.Context, []telego.BotCommand) error
	wg           sync.WaitGroup

	mu    sync.Mutex
	tails map[int64]chan struct{}
}

func New(opts Options) (*Channel, error) {
	bot, err := telego.NewBot(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c, err := newChannel(bot, opts)
	if err != nil {
		return nil, err
	}
	c.poller = bot
	return c, nil
}

func newChannel(bot botAPI, opts Options) (*Channel, error) {
	chatID, err := parseChatID(opts.ChatID)
	if err != nil {
		return nil, err
	}
	if opts.Authorizer == nil {
		return nil, errors.New("telegram: authorizer is required")
	}
	return &Channel{
		bot:        bot,
		chatID:     chatID,
		auth:       opts.Authorizer,
		stepUp:     opts.StepUp,
		defs:       opts.Definitions,
		dispatcher: commands.NewDispatcher(commands.NewRegistry(opts.Definitions)),
		tails:      make(map[int64]chan struct{}),
	}, nil
}

// Start long-polls for updates until ctx is cancelled. Each update is handled
// on its own goroutine, in arrival order per sender; Start returns once they
// have all finished.
func (c *Channel) Start(ctx context.Context) error {
	if c.poller == nil {
		return errors.New("telegram: bot not initialized")
	}
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.poller.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.poller.Username(),
	})
	c.startCommandRegistration(ctx, c.defs)

	defer c.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("telegram", "Stopping Telegram bot...")
			return nil
		case update, ok := <-updates:
			if !ok {
				logger.InfoC("telegram", "Updates channel closed")
				return nil
			}
			if update.Message == nil {
				continue
			}
			c.enqueue(ctx, *update.Message)
		}
	}
}

// enqueue handles msg once every earlier message from the same sender is done,
// so a PIN never overtakes the command that asked for it.
func (c *Channel) enqueue(ctx context.Context, msg telego.Message) {
	key := senderKey(msg)
	done := make(chan struct{})

	c.mu.Lock()
	prev := c.tails[key]
	c.tails[key] = done
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			if c.tails[key] == done {
				delete(c.tails, key)
			}
			c.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		c.handleMessage(ctx, msg)
	}()
}

func senderKey(msg telego.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

const helpHint = "🤖 Send /help to see the available commands."

// handleMessage authorizes the sending user before anything else. Messages
// without a sender, or from anyone else, get no reply at all. Replies go to the
// chat the message came from.
func (c *Channel) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	caller := strconv.FormatInt(msg.From.ID, 10)
	if !c.auth.Authorize(caller) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	req := commands.Request{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:  caller,
		Text:      text,
		MessageID: strconv.Itoa(msg.MessageID),
		Reply: func(s string) error {
			return c.sendText(ctx, msg.Chat.ID, s)
		},
		SendDocument: func(path, caption string) error {
			return c.sendDocument(ctx, msg.Chat.ID, path, caption)
		},
	}

	if !commands.IsCommand(text) {
		if c.stepUp != nil {
			c.submitPIN(ctx, msg, req)
			return
		}
		c.reply(req, helpHint)
		return
	}

	res := c.dispatcher.Dispatch(ctx, req)
	switch {
	case !res.Matched:
		c.reply(req, fmt.Sprintf("❓ Unknown command /%s. Send /help for the list.", res.Command))
	case res.Err != nil:
		logger.WarnCF("telegram", "Command failed", map[string]any{
			"command": res.Command,
			"error":   res.Err.Error(),
		})
		c.reply(req, commands.FormatError(res.Err))
	}
}

// submitPIN treats text as the answer to the caller's pending challenge,
// expired or not. A message that answered a challenge is removed from the chat.
func (c *Channel) submitPIN(ctx context.Context, msg telego.Message, req commands.Request) {
	outcome, err := c.stepUp.Submit(ctx, req.SenderID, req.Text)
	if outcome != stepup.OutcomeNoChallenge {
		c.deleteMessage(ctx, msg)
	}

	switch outcome {
	case stepup.OutcomeAccepted:
		if err != nil {
			c.reply(req, commands.FormatError(err))
		}
	case stepup.OutcomeMismatch:
		c.reply(req, "❌ Incorrect PIN. Operation cancelled.")
	case stepup.OutcomeExpired:
		c.reply(req, "⌛ Confirmation expired. Send the command again.")
	default:
		c.reply(req, helpHint)
	}
}

func (c *Channel) reply(req commands.Request, text string) {
	if err := req.Reply(text); err != nil {
		logger.ErrorCF("telegram", "Failed to send reply", map[string]any{
			"chat_id": req.ChatID,
			"error":   err.Error(),
		})
	}
}

// Notify sends text to the configured chat.
func (c *Channel) Notify(ctx context.Context, text string) error {
	return c.sendText(ctx, c.chatID, text)
}

func (c *Channel) sendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := c.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendChunk(ctx context.Context, chatID int64, content string) error {
	msg := tu.Message(tu.ID(chatID), markdownToHTML(content))
	msg.ParseMode = telego.ModeHTML

	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		logger.WarnCF("telegram", "HTML parse failed, falling back to plain text", map[string]any{
			"error": err.Error(),
		})
		_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), content))
		return err
	}
	return nil
}

func (c *Channel) sendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	params := tu.Document(tu.ID(chatID), tu.File(f))
	params.Caption = caption
	if _, err := c.bot.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("send %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (c *Channel) deleteMessage(ctx context.Context, msg telego.Message) {
	err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(msg.Chat.ID),
		MessageID: msg.MessageID,
	})
	if err != nil {
		logger.WarnCF("telegram", "Failed to delete PIN message", map[string]any{
			"error": err.Error(),
		})
	}
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return id, nil
}
