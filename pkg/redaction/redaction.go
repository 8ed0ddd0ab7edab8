// Package redaction masks secrets before they reach a log line or an audit record.
// Patterns cover Telegram bot tokens and key=value credentials; literal secrets
// loaded from the config file (token, PIN, web password) are registered at startup.
package redaction

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

const Replacement = "[REDACTED]"

var builtinPatterns = []*regexp.Regexp{
	// Telegram bot token: <bot id>:<35 char secret>
	regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_-]{30,}\b`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
	regexp.MustCompile(`(?i)\b(bot_token|token|password|passwd|pin_code|session_secret)\s*[=:]\s*"?[^"\s]+"?`),
}

var sensitiveKeys = []string{"token", "password", "passwd", "pin", "secret", "cookie"}

// Redactor replaces registered secrets and builtin patterns with Replacement.
type Redactor struct {
	mu      sync.RWMutex
	enabled bool
	secrets []string
}

func NewRedactor() *Redactor {
	return &Redactor{enabled: true}
}

// AddSecrets registers literal values that must never appear in output.
// Blank values are ignored.
func (r *Redactor) AddSecrets(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		r.secrets = append(r.secrets, v)
	}
	// longest first so a secret containing another is masked whole
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
}

func (r *Redactor) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

func (r *Redactor) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled || input == "" {
		return input
	}

	for _, s := range r.secrets {
		input = strings.ReplaceAll(input, s, Replacement)
	}
	for _, re := range builtinPatterns {
		input = re.ReplaceAllString(input, Replacement)
	}
	return input
}

// RedactFields masks values of sensitive keys entirely and runs Redact over
// the remaining string values.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = Replacement
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

var global = NewRedactor()

func Redact(input string) string {
	return global.Redact(input)
}

func RedactFields(fields map[string]any) map[string]any {
	return global.RedactFields(fields)
}

// AddSecrets registers secrets on the process-wide redactor used by the logger.
func AddSecrets(values ...string) {
	global.AddSecrets(values...)
}

func SetEnabled(enabled bool) {
	global.SetEnabled(enabled)
}
