// Package config loads the flat KEY="value" settings file shared by the chat bot
// and the web dashboard. Values may be overridden with BDRMAN_<KEY> environment
// variables; BOT_TOKEN and CHAT_ID are mandatory, everything else has a default.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/bdrman/bdrman/pkg/gateway"
)

const (
	DefaultPath = "/etc/bdrman/telegram.conf"
	DefaultPIN  = "1234"

	DefaultLogFile = "/var/log/bdrman-bot.log"
	DefaultAuditDB = "/var/lib/bdrman/audit.db"

	// EnvPrefix marks process environment variables that override file values.
	EnvPrefix = "BDRMAN_"
)

var ErrMissingKey = errors.New("missing mandatory key")

// Error is returned for every condition that must stop the process at startup.
type Error struct {
	Path string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	BotToken   string `env:"BOT_TOKEN"`
	ChatID     string `env:"CHAT_ID"`
	PIN        string `env:"PIN_CODE"`
	ServerName string `env:"SERVER_NAME"`

	WebPassword   string `env:"WEB_PASSWORD"`
	WebListen     string `env:"WEB_LISTEN" envDefault:"0.0.0.0:8443"`
	SessionSecret string `env:"SESSION_SECRET"`

	BackupDir string `env:"BACKUP_DIR" envDefault:"/var/backups/bdrman"`
	BdrmanBin string `env:"BDRMAN_BIN" envDefault:"/usr/local/bin/bdrman"`
	// LogFile and AuditDB take their defaults only when the key is absent;
	// an explicit empty value disables them.
	LogFile  string `env:"LOG_FILE"`
	AuditDB  string `env:"AUDIT_DB"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	ChallengeTTL   int `env:"CHALLENGE_TTL" envDefault:"60"`
	CommandTimeout int `env:"COMMAND_TIMEOUT" envDefault:"30"`
	MaxOutput      int `env:"MAX_OUTPUT" envDefault:"3500"`

	ReportCron   string   `env:"REPORT_CRON"`
	DenyPatterns []string `env:"DENY_PATTERNS" envSeparator:","`
}

// ResolveHostname supplies SERVER_NAME when the file leaves it empty.
var ResolveHostname = func() string {
	return resolveHostname(os.Hostname, gateway.ProcessRunner{})
}

// Load reads path, overlays BDRMAN_* environment variables and validates the result.
func Load(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		values[strings.TrimPrefix(key, EnvPrefix)] = value
	}

	cfg, err := Parse(values)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes an already merged key/value map.
func Parse(values map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: values}); err != nil {
		return nil, &Error{Err: err}
	}

	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.ChatID = strings.TrimSpace(cfg.ChatID)
	cfg.PIN = strings.TrimSpace(cfg.PIN)
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)

	if cfg.BotToken == "" {
		return nil, &Error{Key: "BOT_TOKEN", Err: ErrMissingKey}
	}
	if cfg.ChatID == "" {
		return nil, &Error{Key: "CHAT_ID", Err: ErrMissingKey}
	}
	if cfg.PIN == "" {
		cfg.PIN = DefaultPIN
	}
	if _, ok := values["LOG_FILE"]; !ok {
		cfg.LogFile = DefaultLogFile
	}
	if _, ok := values["AUDIT_DB"]; !ok {
		cfg.AuditDB = DefaultAuditDB
	}
	if cfg.ServerName == "" {
		cfg.ServerName = ResolveHostname()
	}

	for key, v := range map[string]int{
		"CHALLENGE_TTL":   cfg.ChallengeTTL,
		"COMMAND_TIMEOUT": cfg.CommandTimeout,
		"MAX_OUTPUT":      cfg.MaxOutput,
	} {
		if v <= 0 {
			return nil, &Error{Key: key, Err: fmt.Errorf("must be a positive integer, got %d", v)}
		}
	}

	return cfg, nil
}

// ValidateWeb reports whether the dashboard may start with this configuration.
func (c *Config) ValidateWeb() error {
	if strings.TrimSpace(c.WebPassword) == "" {
		return &Error{Key: "WEB_PASSWORD", Err: ErrMissingKey}
	}
	return nil
}

func (c *Config) ChallengeTTLDuration() time.Duration {
	return time.Duration(c.ChallengeTTL) * time.Second
}

func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// Secrets lists values that must be masked in logs.
func (c *Config) Secrets() []string {
	return []string{c.BotToken, c.PIN, c.WebPassword, c.SessionSecret}
}

const (
	fallbackHostname = "server"
	hostnameTimeout  = 5 * time.Second
)

// resolveHostname asks the kernel first and falls back to the hostname binary.
func resolveHostname(lookup func() (string, error), runner gateway.Runner) string {
	if name, err := lookup(); err == nil && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostnameTimeout)
	defer cancel()
	capture, err := runner.Run(ctx, gateway.Cmd("hostname").WithTimeout(hostnameTimeout).WithMaxOutput(256))
	if err != nil || capture.ExitCode != 0 {
		return fallbackHostname
	}
	if name := strings.TrimSpace(string(capture.Output)); name != "" {
		return name
	}
	return fallbackHostname
}
