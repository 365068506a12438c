package lifecycle

import (
	"github.com/google/uuid"

	"github.com/user/bluexfer/link"
)

// DefaultMinRSSI rejects peers too far away to sustain a transfer.
const DefaultMinRSSI = -80

// Filter decides which advertisements are worth connecting to.
type Filter struct {
	Service uuid.UUID
	MinRSSI int
}

// Accept reports whether a candidate advertises the transfer service and is
// loud enough.
func (f Filter) Accept(rssi int, adv link.Advertisement) bool {
	if rssi < f.MinRSSI {
		return false
	}
	return adv.HasService(f.Service)
}

// Candidates dedupes discovery results by identity: a device that keeps
// advertising is reported once until it is forgotten. Not safe for
// concurrent use.
type Candidates struct {
	seen map[link.Identity]int
}

// NewCandidates returns an empty set.
func NewCandidates() *Candidates {
	return &Candidates{seen: make(map[link.Identity]int)}
}

// Observe records id with its latest RSSI and reports whether it is new.
func (c *Candidates) Observe(id link.Identity, rssi int) bool {
	_, known := c.seen[id]
	c.seen[id] = rssi
	return !known
}

// Forget drops id so the next advertisement counts as new.
func (c *Candidates) Forget(id link.Identity) {
	delete(c.seen, id)
}

// Reset forgets every identity.
func (c *Candidates) Reset() {
	clear(c.seen)
}

// Len is the number of tracked identities.
func (c *Candidates) Len() int {
	return len(c.seen)
}

// RSSI returns the last signal strength seen for id.
func (c *Candidates) RSSI(id link.Identity) (int, bool) {
	r, ok := c.seen[id]
	return r, ok
}
