package gatt

import (
	"encoding/binary"
	"errors"
	"sync"
)

// CCCD bits written by a client to enable server-initiated updates.
const (
	CCCDNotificationsEnabled = 0x0001
	CCCDIndicationsEnabled   = 0x0002
)

// ErrInvalidCCCDLength is returned for a CCCD write that is not 2 bytes.
var ErrInvalidCCCDLength = errors.New("gatt: CCCD value must be 2 bytes")

// Subscriptions holds the CCCD state of one connection, keyed by CCCD
// handle. State is per connection and dies with it.
type Subscriptions struct {
	mu    sync.RWMutex
	state map[uint16]uint16
}

// NewSubscriptions creates empty per-connection CCCD state.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{state: make(map[uint16]uint16)}
}

// Set applies a client write and reports whether notifications were turned
// on or off by it.
func (s *Subscriptions) Set(handle uint16, value []byte) (enabled, changed bool, err error) {
	if len(value) != 2 {
		return false, false, ErrInvalidCCCDLength
	}
	v := binary.LittleEndian.Uint16(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.state[handle]&CCCDNotificationsEnabled != 0
	if v == 0 {
		delete(s.state, handle)
	} else {
		s.state[handle] = v
	}
	enabled = v&CCCDNotificationsEnabled != 0
	return enabled, enabled != was, nil
}

// Notifying reports whether notifications are enabled on handle.
func (s *Subscriptions) Notifying(handle uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[handle]&CCCDNotificationsEnabled != 0
}

// Count returns the number of enabled CCCDs.
func (s *Subscriptions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}

// Clear drops every subscription (connection closed).
func (s *Subscriptions) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.state)
}

// EncodeCCCD builds the 2-byte little-endian value a client writes.
func EncodeCCCD(notify, indicate bool) []byte {
	var v uint16
	if notify {
		v |= CCCDNotificationsEnabled
	}
	if indicate {
		v |= CCCDIndicationsEnabled
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}
