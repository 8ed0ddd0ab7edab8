package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bdrman/bdrman/pkg/redaction"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	ts TEXT NOT NULL,
	type TEXT NOT NULL,
	actor TEXT,
	source TEXT,
	action TEXT,
	success INTEGER NOT NULL,
	detail TEXT,
	hash TEXT NOT NULL,
	previous_hash TEXT
);`

// ErrChainBroken is returned by Verify when a row was altered or removed.
var ErrChainBroken = errors.New("audit hash chain broken")

type SQLiteStore struct {
	db       *sql.DB
	key      []byte
	mu       sync.Mutex
	lastHash string
	now      func() time.Time
}

// Open opens (or creates) the audit database at path. key signs the
// chain; an empty key still yields a verifiable chain of plain digests.
func Open(path string, key []byte) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// modernc sqlite connections do not share :memory: databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}

	s := &SQLiteStore{db: db, key: key, now: time.Now}
	row := db.QueryRow(`SELECT hash FROM events ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&s.lastHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("read audit chain head: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Action = redaction.Redact(e.Action)
	e.Detail = redaction.Redact(e.Detail)
	e.PreviousHash = s.lastHash
	e.Hash = computeHash(s.key, e)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, ts, type, actor, source, action, success, detail, hash, previous_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(e.Type), e.Actor, e.Source,
		e.Action, e.Success, e.Detail, e.Hash, e.PreviousHash)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	s.lastHash = e.Hash
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, type, actor, source, action, success, detail, hash, previous_hash
		 FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Verify walks the whole chain and returns how many events it checked.
func (s *SQLiteStore) Verify(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, type, actor, source, action, success, detail, hash, previous_hash
		 FROM events ORDER BY seq ASC`)
	if err != nil {
		return 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return 0, err
	}

	prev := ""
	for i, e := range events {
		if e.PreviousHash != prev {
			return i, fmt.Errorf("event %s: %w: previous hash mismatch", e.ID, ErrChainBroken)
		}
		if computeHash(s.key, e) != e.Hash {
			return i, fmt.Errorf("event %s: %w: content hash mismatch", e.ID, ErrChainBroken)
		}
		prev = e.Hash
	}
	return len(events), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e                             Event
			ts, typ                       string
			actor, source, action, detail sql.NullString
			prev                          sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &actor, &source, &action, &e.Success, &detail, &e.Hash, &prev); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		e.Type = EventType(typ)
		e.Actor = actor.String
		e.Source = source.String
		e.Action = action.String
		e.Detail = detail.String
		e.PreviousHash = prev.String
		events = append(events, e)
	}
	return events, rows.Err()
}
