package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/pkg/commands"
	"github.com/bdrman/bdrman/pkg/gateway"
	"github.com/bdrman/bdrman/pkg/ops"
	"github.com/bdrman/bdrman/pkg/stepup"
)

type fakeBot struct {
	mu         sync.Mutex
	sent       []*telego.SendMessageParams
	documents  []*telego.SendDocumentParams
	deleted    []int
	menu       []telego.BotCommand
	rejectHTML bool

	// hold, when set, blocks every SendMessage until it is closed.
	hold chan struct{}
}

func (b *fakeBot) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	if b.hold != nil {
		<-b.hold
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectHTML && p.ParseMode == telego.ModeHTML {
		return nil, errors.New("Bad Request: can't parse entities")
	}
	b.sent = append(b.sent, p)
	return &telego.Message{}, nil
}

func (b *fakeBot) SendDocument(_ context.Context, p *telego.SendDocumentParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents = append(b.documents, p)
	return &telego.Message{}, nil
}

func (b *fakeBot) DeleteMessage(_ context.Context, p *telego.DeleteMessageParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, p.MessageID)
	return nil
}

func (b *fakeBot) SetMyCommands(_ context.Context, p *telego.SetMyCommandsParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.menu = p.Commands
	return nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, p := range b.sent {
		out = append(out, p.Text)
	}
	return out
}

type recordingRunner struct {
	mu      sync.Mutex
	ran     []string
	started []string
}

func (r *recordingRunner) Run(_ context.Context, cmd gateway.Command) (gateway.Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, cmd.String())
	return gateway.Capture{}, nil
}

func (r *recordingRunner) Start(cmd gateway.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, cmd.String())
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ch        *Channel
	clock     *fakeClock
	bot       *fakeBot
	runner    *recordingRunner
	stepUp    *stepup.Manager
	backupDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	runner := &recordingRunner{}
	gw, err := gateway.New(gateway.Options{Identity: "123", Runner: runner})
	require.NoError(t, err)

	backupDir := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sm := stepup.New(stepup.Options{PIN: "2468", TTL: time.Minute, Now: clock.Now})
	defs := commands.Builtin(commands.Deps{
		ServerName: "edge-01",
		Ops:        ops.New(ops.Options{Executor: gw, BackupDir: backupDir}),
		Shell:      gw,
		StepUp:     sm,
	})

	bot := &fakeBot{}
	ch, err := newChannel(bot, Options{
		ChatID:      "123",
		Authorizer:  gw,
		StepUp:      sm,
		Definitions: defs,
	})
	require.NoError(t, err)
	return &harness{ch: ch, clock: clock, bot: bot, runner: runner, stepUp: sm, backupDir: backupDir}
}

func (h *harness) send(chatID int64, messageID int, text string) {
	h.ch.handleMessage(context.Background(), privateMessage(chatID, messageID, text))
}

func privateMessage(userID int64, messageID int, text string) telego.Message {
	return telego.Message{
		MessageID: messageID,
		Text:      text,
		Chat:      telego.Chat{ID: userID, Type: "private"},
		From:      &telego.User{ID: userID, FirstName: "Admin"},
	}
}

func groupMessage(chatID, userID int64, messageID int, text string) telego.Message {
	return telego.Message{
		MessageID: messageID,
		Text:      text,
		Chat:      telego.Chat{ID: chatID, Type: "group"},
		From:      &telego.User{ID: userID, FirstName: "Member"},
	}
}

func (r *recordingRunner) snapshot() (ran, started []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...), append([]string(nil), r.started...)
}

func TestHandleMessage_UnauthorizedChatIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.send(999, 1, "/restart foo")

	assert.Empty(t, h.runner.ran)
	assert.Empty(t, h.runner.started)
	assert.Empty(t, h.bot.texts())
}

func TestHandleMessage_AuthorizesSenderNotChat(t *testing.T) {
	h := newHarness(t)

	// Chat 123 is a group here; its other members are not the admin.
	h.ch.handleMessage(context.Background(), groupMessage(123, 999, 1, "/restart foo"))
	assert.Empty(t, h.runner.ran)
	assert.Empty(t, h.bot.texts())

	h.ch.handleMessage(context.Background(), groupMessage(-100555, 123, 2, "/restart foo"))
	assert.Equal(t, []string{"docker restart foo"}, h.runner.ran)
	require.NotEmpty(t, h.bot.sent)
	assert.Equal(t, int64(-100555), h.bot.sent[0].ChatID.ID)
}

func TestHandleMessage_MissingSenderIsIgnored(t *testing.T) {
	h := newHarness(t)

	msg := privateMessage(123, 1, "/restart foo")
	msg.From = nil
	h.ch.handleMessage(context.Background(), msg)

	assert.Empty(t, h.runner.ran)
	assert.Empty(t, h.bot.texts())
}

func TestHandleMessage_ChallengeIsKeyedBySender(t *testing.T) {
	h := newHarness(t)

	h.ch.handleMessage(context.Background(), groupMessage(-100555, 123, 1, "/snapshot"))
	assert.True(t, h.stepUp.Pending("123"))
	assert.False(t, h.stepUp.Pending("-100555"))

	h.send(123, 2, "2468")
	_, started := h.runner.snapshot()
	assert.Equal(t, []string{ops.DefaultBdrmanBin + " snapshot create"}, started)
}

func TestEnqueue_KeepsSenderOrder(t *testing.T) {
	h := newHarness(t)
	h.bot.hold = make(chan struct{})

	h.ch.enqueue(context.Background(), privateMessage(123, 1, "/snapshot"))
	h.ch.enqueue(context.Background(), privateMessage(123, 2, "2468"))
	close(h.bot.hold)
	h.ch.wg.Wait()

	_, started := h.runner.snapshot()
	assert.Equal(t, []string{ops.DefaultBdrmanBin + " snapshot create"}, started)
	assert.Equal(t, []int{2}, h.bot.deleted)
	assert.False(t, h.stepUp.Pending("123"))
	assert.Empty(t, h.ch.tails)
}

func TestHandleMessage_AuthorizedRestart(t *testing.T) {
	h := newHarness(t)

	h.send(123, 1, "/restart foo")

	assert.Equal(t, []string{"docker restart foo"}, h.runner.ran)
	texts := h.bot.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "🔄 Restarting <code>foo</code>...", texts[0])
}

func TestHandleMessage_MentionSyntax(t *testing.T) {
	h := newHarness(t)
	h.send(123, 1, "/restart@bdrman_bot foo")
	assert.Equal(t, []string{"docker restart foo"}, h.runner.ran)
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.send(123, 1, "/reboot")
	assert.Equal(t, []string{"❓ Unknown command /reboot. Send /help for the list."}, h.bot.texts())
}

func TestHandleMessage_PlainTextWithoutChallenge(t *testing.T) {
	h := newHarness(t)
	h.send(123, 1, "hello")
	assert.Equal(t, []string{"🤖 Send /help to see the available commands."}, h.bot.texts())
	assert.Empty(t, h.bot.deleted)
}

func TestHandleMessage_WrongPINCancels(t *testing.T) {
	h := newHarness(t)

	h.send(123, 1, "/snapshot")
	require.True(t, h.stepUp.Pending("123"))

	h.send(123, 2, "0000")

	assert.Equal(t, []int{2}, h.bot.deleted)
	assert.False(t, h.stepUp.Pending("123"))
	assert.Empty(t, h.runner.started)
	texts := h.bot.texts()
	assert.Equal(t, "❌ Incorrect PIN. Operation cancelled.", texts[len(texts)-1])
}

func TestHandleMessage_CorrectPINRunsOnce(t *testing.T) {
	h := newHarness(t)

	h.send(123, 1, "/snapshot")
	h.send(123, 2, "2468")
	h.send(123, 3, "2468")

	assert.Equal(t, []string{ops.DefaultBdrmanBin + " snapshot create"}, h.runner.started)
	assert.Equal(t, []int{2}, h.bot.deleted)
	assert.False(t, h.stepUp.Pending("123"))
}

func TestHandleMessage_ExpiredChallenge(t *testing.T) {
	h := newHarness(t)

	h.send(123, 1, "/snapshot")
	h.clock.Advance(2 * time.Minute)
	h.send(123, 2, "2468")

	assert.Empty(t, h.runner.started)
	assert.Equal(t, []int{2}, h.bot.deleted)
	texts := h.bot.texts()
	assert.Equal(t, "⌛ Confirmation expired. Send the command again.", texts[len(texts)-1])
}

func TestHandleMessage_CommandWhileChallengePending(t *testing.T) {
	h := newHarness(t)

	h.send(123, 1, "/firewallreset")
	h.send(123, 2, "/uptime")

	assert.Equal(t, []string{"uptime -p"}, h.runner.ran)
	assert.True(t, h.stepUp.Pending("123"))
	assert.Empty(t, h.bot.deleted)
}

func TestHandleMessage_GetBackupSendsDocument(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.backupDir, "db.tar.gz"), []byte("data"), 0o600))

	h.send(123, 1, "/getbackup db.tar.gz")

	require.Len(t, h.bot.documents, 1)
	assert.Equal(t, int64(123), h.bot.documents[0].ChatID.ID)
}

func TestSendText_FallsBackToPlainText(t *testing.T) {
	h := newHarness(t)
	h.bot.rejectHTML = true

	require.NoError(t, h.ch.Notify(context.Background(), "**Report** <ok>"))

	require.Len(t, h.bot.sent, 1)
	assert.Equal(t, "**Report** <ok>", h.bot.sent[0].Text)
	assert.Empty(t, h.bot.sent[0].ParseMode)
	assert.Equal(t, int64(123), h.bot.sent[0].ChatID.ID)
}

func TestSendText_SplitsLongMessages(t *testing.T) {
	h := newHarness(t)
	long := strings.Repeat("line of output\n", 600)

	require.NoError(t, h.ch.Notify(context.Background(), long))

	require.Greater(t, len(h.bot.sent), 1)
	for _, p := range h.bot.sent {
		assert.LessOrEqual(t, runeLen(p.Text), maxMessageLength)
	}
}

func TestRegisterCommands_MarksCriticalEntries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ch.RegisterCommands(context.Background(), commandMenu([]commands.Definition{
		{Name: "status", Description: "Server status"},
		{Name: "upgrade", Description: "System upgrade", Critical: true},
		{Name: "hidden"},
	})))

	require.Len(t, h.bot.menu, 2)
	assert.Equal(t, "System upgrade (PIN)", h.bot.menu[1].Description)
}

func TestNewChannel_InvalidChatID(t *testing.T) {
	_, err := newChannel(&fakeBot{}, Options{ChatID: "admin", Authorizer: stubAuth(true)})
	assert.Error(t, err)
}

type stubAuth bool

func (a stubAuth) Authorize(string) bool { return bool(a) }
