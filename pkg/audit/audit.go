// Package audit keeps a tamper-evident trail of security-relevant actions:
// rejected callers, executed commands, denylist hits, step-up challenges and
// dashboard logins. Each event is chained to its predecessor with an HMAC.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type EventType string

const (
	EventAuthFailure        EventType = "auth_failure"
	EventExecution          EventType = "command_execution"
	EventValidationRejected EventType = "validation_rejected"
	EventSpawn              EventType = "detached_spawn"
	EventStepUpIssued       EventType = "stepup_issued"
	EventStepUpResult       EventType = "stepup_result"
	EventWebLogin           EventType = "web_login"
	EventWebLogout          EventType = "web_logout"
)

type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Type         EventType `json:"type"`
	Actor        string    `json:"actor,omitempty"`  // chat id or web session
	Source       string    `json:"source,omitempty"` // "telegram", "web", remote address
	Action       string    `json:"action"`
	Success      bool      `json:"success"`
	Detail       string    `json:"detail,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	PreviousHash string    `json:"previous_hash,omitempty"`
}

// Recorder is implemented by every audit sink.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// computeHash signs every persisted field except Hash itself.
func computeHash(key []byte, e Event) string {
	signData := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%t|%s|%s",
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Type,
		e.Actor,
		e.Source,
		e.Action,
		e.Success,
		e.Detail,
		e.PreviousHash,
	)

	h := hmac.New(sha256.New, key)
	h.Write([]byte(signData))
	return hex.EncodeToString(h.Sum(nil))
}
