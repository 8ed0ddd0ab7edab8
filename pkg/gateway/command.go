package gateway

import (
	"strconv"
	"strings"
	"time"
)

// Truncation selects which end of an oversized output survives.
type Truncation int

const (
	// TruncateHead keeps the first bytes and appends TruncatedMarker.
	TruncateHead Truncation = iota
	// TruncateTail keeps the most recent bytes, for log tailing.
	TruncateTail
)

// Command is an argument vector. Args are handed to the child as-is and are
// never interpreted by a shell unless Name is a shell invoked through Shell.
type Command struct {
	Name      string
	Args      []string
	Dir       string
	Timeout   time.Duration
	MaxOutput int
	Truncate  Truncation
}

func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Shell wraps a trusted script in sh -c. Only constant pipelines and the
// denylist-checked free-form entry point may use it.
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

func (c Command) WithMaxOutput(n int) Command {
	c.MaxOutput = n
	return c
}

func (c Command) Tail() Command {
	c.Truncate = TruncateTail
	return c
}

// String renders the command for logs and audit records, quoting arguments
// that would otherwise read ambiguously.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`;&|<>*?") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
