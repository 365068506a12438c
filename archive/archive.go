// Package archive keeps a SQLite (WAL mode) record of what a node did:
// completed messages in both directions, lifecycle transitions and the
// peers it has seen. A Store is a coordinator.Observer.
package archive

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/util"
)

// Message directions.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Store wraps *sql.DB with the archive schema.
type Store struct {
	db     *sql.DB
	prefix string

	// One session id per endpoint connection attempt, so transitions and
	// messages of the same link can be grouped.
	mu       sync.Mutex
	sessions map[link.Identity]string
}

// Message is one archived message.
type Message struct {
	ID         int64
	Session    string
	Endpoint   link.Identity
	Direction  string
	Size       int
	Body       []byte
	RecordedAt time.Time
}

// Transition is one archived lifecycle transition.
type Transition struct {
	Session    string
	Endpoint   link.Identity
	From       string
	To         string
	Event      string
	Cause      string
	RecordedAt time.Time
}

// Peer is the last advertisement seen from an identity.
type Peer struct {
	Endpoint  link.Identity
	LocalName string
	RSSI      int
	LastSeen  time.Time
}

// Open opens (or creates) the SQLite file at path with WAL journal mode and
// applies the schema.
func Open(deviceID, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		prefix:   util.ShortHash(deviceID) + " Archive",
		sessions: make(map[link.Identity]string),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, stmt := range []string{ddlMessages, ddlTransitions, ddlPeers} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("archive: migrate: %w", err)
		}
	}
	return nil
}

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT    NOT NULL DEFAULT '',
    endpoint    TEXT    NOT NULL,
    direction   TEXT    NOT NULL,          -- 'in' | 'out'
    size        INTEGER NOT NULL,
    body        BLOB,                      -- NULL for outbound messages
    recorded_at INTEGER NOT NULL           -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_recorded_at ON messages (recorded_at DESC);
`

const ddlTransitions = `
CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT    NOT NULL,
    endpoint    TEXT    NOT NULL,
    from_state  TEXT    NOT NULL,
    to_state    TEXT    NOT NULL,
    event       TEXT    NOT NULL,
    cause       TEXT    NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_endpoint ON transitions (endpoint, id);
`

const ddlPeers = `
CREATE TABLE IF NOT EXISTS peers (
    endpoint   TEXT    PRIMARY KEY,
    local_name TEXT    NOT NULL DEFAULT '',
    rssi       INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL
);
`

// session returns the current session id for id. A transition out of Idle
// starts a new one.
func (s *Store) session(c coordinator.StateChange) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.sessions[c.Endpoint]
	if !ok || c.From == lifecycle.StateIdle {
		sid = uuid.NewString()
		s.sessions[c.Endpoint] = sid
	}
	return sid
}

func (s *Store) currentSession(id link.Identity) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// RecordTransition stores one lifecycle transition.
func (s *Store) RecordTransition(c coordinator.StateChange) error {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	cause := ""
	if c.Cause != nil {
		cause = c.Cause.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO transitions (session, endpoint, from_state, to_state, event, cause, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.session(c), string(c.Endpoint), c.From.String(), c.To.String(), c.Event.String(), cause, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: insert transition: %w", err)
	}
	return nil
}

// RecordMessage stores one completed message. body may be nil.
func (s *Store) RecordMessage(id link.Identity, direction string, size int, body []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (session, endpoint, direction, size, body, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.currentSession(id), string(id), direction, size, body, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: insert message: %w", err)
	}
	return nil
}

// RecordPeer upserts the advertisement seen from id.
func (s *Store) RecordPeer(id link.Identity, rssi int, adv link.Advertisement) error {
	_, err := s.db.Exec(
		`INSERT INTO peers (endpoint, local_name, rssi, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		     local_name = excluded.local_name, rssi = excluded.rssi, last_seen = excluded.last_seen`,
		string(id), adv.LocalName, rssi, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: upsert peer: %w", err)
	}
	return nil
}

// Messages returns up to limit messages, newest first.
func (s *Store) Messages(limit int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session, endpoint, direction, size, body, recorded_at
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var endpoint string
		var ms int64
		if err := rows.Scan(&m.ID, &m.Session, &endpoint, &m.Direction, &m.Size, &m.Body, &ms); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		m.Endpoint = link.Identity(endpoint)
		m.RecordedAt = time.UnixMilli(ms)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Transitions returns every transition recorded for id, oldest first.
func (s *Store) Transitions(id link.Identity) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT session, endpoint, from_state, to_state, event, cause, recorded_at
		 FROM transitions WHERE endpoint = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("archive: query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var endpoint string
		var ms int64
		if err := rows.Scan(&t.Session, &endpoint, &t.From, &t.To, &t.Event, &t.Cause, &ms); err != nil {
			return nil, fmt.Errorf("archive: scan transition: %w", err)
		}
		t.Endpoint = link.Identity(endpoint)
		t.RecordedAt = time.UnixMilli(ms)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Peers returns every peer seen, most recent first.
func (s *Store) Peers() ([]Peer, error) {
	rows, err := s.db.Query(`SELECT endpoint, local_name, rssi, last_seen FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("archive: query peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		var p Peer
		var endpoint string
		var ms int64
		if err := rows.Scan(&endpoint, &p.LocalName, &p.RSSI, &ms); err != nil {
			return nil, fmt.Errorf("archive: scan peer: %w", err)
		}
		p.Endpoint = link.Identity(endpoint)
		p.LastSeen = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) OnLifecycleStateChanged(c coordinator.StateChange) {
	if err := s.RecordTransition(c); err != nil {
		logger.Warn(s.prefix, "%v", err)
	}
}

func (s *Store) OnMessageReceived(id link.Identity, msg []byte) {
	if err := s.RecordMessage(id, Inbound, len(msg), msg); err != nil {
		logger.Warn(s.prefix, "%v", err)
		return
	}
	logger.Debug(s.prefix, "🗄️  archived %d bytes from %s", len(msg), id.Short())
}

func (s *Store) OnSendComplete(id link.Identity, size int) {
	if err := s.RecordMessage(id, Outbound, size, nil); err != nil {
		logger.Warn(s.prefix, "%v", err)
	}
}

func (s *Store) OnCandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement) {
	if err := s.RecordPeer(id, rssi, adv); err != nil {
		logger.Warn(s.prefix, "%v", err)
	}
}
