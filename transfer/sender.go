// Package transfer implements the chunked, sentinel-terminated message framing
// that runs on top of a link.Link.
//
// A Sender drains one payload at a time through a Link in chunks no larger than
// Link.MaxChunkSize, then emits the Sentinel as its own frame. A Receiver
// appends chunks until it sees the Sentinel and yields the reassembled payload.
// Neither type starts goroutines or locks: each is owned by exactly one
// execution context (the coordinator's per-endpoint actor).
package transfer

import (
	"errors"

	"github.com/user/bluexfer/link"
)

// ErrAlreadyInProgress is returned by Enqueue while a previous payload (or its
// sentinel) has not been fully accepted by the link.
var ErrAlreadyInProgress = errors.New("transfer: send already in progress")

// Cursor tracks how much of a queued payload the link has accepted.
// Invariant: 0 <= offset <= len(payload); eomPending is set once offset reaches
// len(payload) and the cursor is dropped once the sentinel is accepted.
type Cursor struct {
	payload    []byte
	offset     int
	eomPending bool
}

// Len is the total payload size.
func (c Cursor) Len() int { return len(c.payload) }

// Offset is the number of payload bytes confirmed sent.
func (c Cursor) Offset() int { return c.offset }

// Remaining is the number of payload bytes not yet accepted.
func (c Cursor) Remaining() int { return len(c.payload) - c.offset }

// EOMPending reports that all data is out and only the sentinel is left.
func (c Cursor) EOMPending() bool { return c.eomPending }

// Progress summarizes one Pump call.
type Progress struct {
	Chunks   int  // data chunks accepted during this pump
	Bytes    int  // payload bytes accepted during this pump
	Blocked  bool // the link refused a write; wait for capacity
	Complete bool // the sentinel was accepted and the cursor is gone
	Total    int  // payload size of the message that completed (when Complete)
}

// Sender owns at most one outbound cursor.
type Sender struct {
	sentinel Sentinel
	cursor   *Cursor
}

// NewSender creates a sender framing messages with s.
func NewSender(s Sentinel) *Sender {
	if len(s) == 0 {
		s = DefaultSentinel
	}
	return &Sender{sentinel: s}
}

// Enqueue hands payload to the sender. The bytes are copied so the caller may
// reuse its buffer. An empty payload produces a lone sentinel frame.
func (s *Sender) Enqueue(payload []byte) error {
	if s.cursor != nil {
		return ErrAlreadyInProgress
	}
	c := &Cursor{payload: append([]byte(nil), payload...)}
	c.eomPending = len(c.payload) == 0
	s.cursor = c
	return nil
}

// Pending reports whether a cursor exists.
func (s *Sender) Pending() bool {
	return s.cursor != nil
}

// Cursor returns a snapshot of the current cursor.
func (s *Sender) Cursor() (Cursor, bool) {
	if s.cursor == nil {
		return Cursor{}, false
	}
	return *s.cursor, true
}

// Pump pushes as much of the pending payload through l as it accepts.
//
// The offset only advances after TrySend returns true, so calling Pump again
// (for example on a duplicate capacity event) resumes exactly at the first
// unaccepted chunk. With no cursor, or a nil link, Pump does nothing. A link
// whose chunk size cannot carry the sentinel blocks the send until it grows.
func (s *Sender) Pump(l link.Link) Progress {
	var p Progress
	c := s.cursor
	if c == nil || l == nil {
		return p
	}

	for !c.eomPending {
		max := l.MaxChunkSize()
		if max < len(s.sentinel) {
			p.Blocked = true
			return p
		}
		n := s.chunkLen(c, max)
		if !l.TrySend(c.payload[c.offset : c.offset+n]) {
			p.Blocked = true
			return p
		}
		c.offset += n
		p.Chunks++
		p.Bytes += n
		if c.offset == len(c.payload) {
			c.eomPending = true
		}
	}

	if l.MaxChunkSize() < len(s.sentinel) || !l.TrySend(s.sentinel) {
		p.Blocked = true
		return p
	}
	p.Complete = true
	p.Total = len(c.payload)
	s.cursor = nil
	return p
}

// chunkLen sizes the next data chunk so that it never equals the sentinel.
// A 1-byte sentinel can still collide with a 1-byte chunk.
func (s *Sender) chunkLen(c *Cursor, max int) int {
	n := len(c.payload) - c.offset
	if n > max {
		n = max
	}
	if !s.sentinel.Matches(c.payload[c.offset : c.offset+n]) {
		return n
	}
	if n > 1 {
		return n - 1
	}
	return n
}

// Reset discards the in-flight cursor, if any.
func (s *Sender) Reset() {
	s.cursor = nil
}
