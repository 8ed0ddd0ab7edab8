package commands

import (
	"context"
	"strings"
)

type Handler func(ctx context.Context, req Request) error

// Request is one inbound chat message addressed to the command table.
type Request struct {
	Channel   string
	ChatID    string
	SenderID  string
	Text      string
	MessageID string
	Reply     func(text string) error
	// SendDocument uploads a local file; nil when the channel cannot.
	SendDocument func(path, caption string) error
}

// Args returns the whitespace separated tokens after the command name.
func (r Request) Args() []string {
	parts := strings.Fields(r.Text)
	if len(parts) < 2 {
		return nil
	}
	return parts[1:]
}

// Tail returns everything after the command name, preserving inner spacing.
func (r Request) Tail() string {
	text := strings.TrimSpace(r.Text)
	i := strings.IndexAny(text, " \t\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i+1:])
}

type Result struct {
	// Command is the normalized name, set even when nothing matched.
	Command string
	Matched bool
	Err     error
}

type Dispatching interface {
	Dispatch(ctx context.Context, req Request) Result
}

type Dispatcher struct {
	reg *Registry
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	name, ok := parseCommandName(req.Text)
	if !ok {
		return Result{}
	}
	def, found := d.reg.Lookup(name)
	if !found || def.Handler == nil {
		return Result{Command: name}
	}
	return Result{Command: def.Name, Matched: true, Err: def.Handler(ctx, req)}
}

// IsCommand reports whether text starts with a /command token.
func IsCommand(text string) bool {
	_, ok := parseCommandName(text)
	return ok
}

// parseCommandName turns "/Restart@bdrman_bot web" into "restart".
func parseCommandName(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name, _, _ := strings.Cut(fields[0][1:], "@")
	name = strings.ToLower(name)
	return name, name != ""
}
