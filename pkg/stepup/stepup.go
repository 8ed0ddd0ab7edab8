// Package stepup guards critical operations behind a second factor. A caller
// asks for an action, gets a PIN prompt, and the next message they send is the
// PIN attempt. Every attempt consumes the challenge whether or not it matches.
package stepup

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/logger"
)

const DefaultTTL = 60 * time.Second

var (
	ErrChallengeMismatch = errors.New("incorrect PIN")
	ErrChallengeExpired  = errors.New("PIN challenge expired")
	ErrNoChallenge       = errors.New("no pending PIN challenge")
)

type Outcome int

const (
	OutcomeNoChallenge Outcome = iota
	OutcomeAccepted
	OutcomeMismatch
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeExpired:
		return "expired"
	default:
		return "no_challenge"
	}
}

// Action is the deferred critical operation. It should launch detached work
// and return promptly; it runs on the goroutine that submitted the PIN.
type Action func(ctx context.Context) error

type Challenge struct {
	Caller    string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time

	action Action
}

func (c Challenge) Prompt() string {
	return fmt.Sprintf("🔐 %s requires confirmation.\nReply with your PIN within %s, or /cancel.",
		c.Label, c.ExpiresAt.Sub(c.CreatedAt).Round(time.Second))
}

type Options struct {
	PIN      string
	TTL      time.Duration
	Recorder audit.Recorder
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Manager struct {
	pin      string
	ttl      time.Duration
	recorder audit.Recorder
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*Challenge
}

func New(opts Options) *Manager {
	m := &Manager{
		pin:      opts.PIN,
		ttl:      opts.TTL,
		recorder: opts.Recorder,
		now:      opts.Now,
		pending:  make(map[string]*Challenge),
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.recorder == nil {
		m.recorder = audit.Nop{}
	}
	return m
}

// Request records action as caller's pending challenge, replacing any earlier one.
func (m *Manager) Request(caller, label string, action Action) Challenge {
	now := m.now()
	c := &Challenge{
		Caller:    caller,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		action:    action,
	}

	m.mu.Lock()
	prev, replaced := m.pending[caller]
	m.pending[caller] = c
	m.mu.Unlock()

	fields := map[string]any{"caller": caller, "label": label}
	if replaced {
		fields["replaced"] = prev.Label
		logger.WarnCF("stepup", "Pending challenge replaced", fields)
	} else {
		logger.InfoCF("stepup", "Challenge issued", fields)
	}
	m.record(audit.Event{
		Type:    audit.EventStepUpIssued,
		Actor:   caller,
		Action:  label,
		Success: true,
	})
	return *c
}

// Submit consumes caller's pending challenge and runs its action only when pin
// matches. The returned error is the action's error on OutcomeAccepted.
func (m *Manager) Submit(ctx context.Context, caller, pin string) (Outcome, error) {
	m.mu.Lock()
	c, ok := m.pending[caller]
	delete(m.pending, caller)
	m.mu.Unlock()

	if !ok {
		return OutcomeNoChallenge, ErrNoChallenge
	}

	if !m.now().Before(c.ExpiresAt) {
		m.finish(c, OutcomeExpired)
		return OutcomeExpired, ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(pin), []byte(m.pin)) != 1 {
		m.finish(c, OutcomeMismatch)
		return OutcomeMismatch, ErrChallengeMismatch
	}

	m.finish(c, OutcomeAccepted)
	if c.action == nil {
		return OutcomeAccepted, nil
	}
	if err := c.action(ctx); err != nil {
		return OutcomeAccepted, fmt.Errorf("%s: %w", c.Label, err)
	}
	return OutcomeAccepted, nil
}

// Pending reports whether caller has a live challenge. Expired ones are purged.
func (m *Manager) Pending(caller string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.pending[caller]
	if !ok {
		return false
	}
	if !m.now().Before(c.ExpiresAt) {
		delete(m.pending, caller)
		return false
	}
	return true
}

// Cancel drops caller's challenge without running it.
func (m *Manager) Cancel(caller string) bool {
	m.mu.Lock()
	c, ok := m.pending[caller]
	delete(m.pending, caller)
	m.mu.Unlock()

	if ok {
		logger.InfoCF("stepup", "Challenge cancelled", map[string]any{
			"caller": caller,
			"label":  c.Label,
		})
	}
	return ok
}

func (m *Manager) finish(c *Challenge, outcome Outcome) {
	fields := map[string]any{
		"caller":  c.Caller,
		"label":   c.Label,
		"outcome": outcome.String(),
	}
	if outcome == OutcomeAccepted {
		logger.InfoCF("stepup", "Challenge accepted", fields)
	} else {
		logger.WarnCF("stepup", "Challenge rejected", fields)
	}
	m.record(audit.Event{
		Type:    audit.EventStepUpResult,
		Actor:   c.Caller,
		Action:  c.Label,
		Success: outcome == OutcomeAccepted,
		Detail:  outcome.String(),
	})
}

func (m *Manager) record(e audit.Event) {
	e.Source = "stepup"
	if err := m.recorder.Record(context.Background(), e); err != nil {
		logger.WarnCF("stepup", "Failed to write audit event", map[string]any{"error": err.Error()})
	}
}
