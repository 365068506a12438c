package lifecycle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/user/bluexfer/link"
)

// Backoff implements exponential backoff with jitter.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a new backoff with the given initial and max durations.
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the current delay with ±20% jitter and doubles it for next time.
func (b *Backoff) Next() time.Duration {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset resets the backoff to the initial duration.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Holdoff keeps failing peers from being reconnected in a tight loop. Each
// identity gets its own Backoff; a successful subscription clears it.
type Holdoff struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	peers   map[link.Identity]*holdoffEntry
	now     func() time.Time
}

type holdoffEntry struct {
	backoff *Backoff
	until   time.Time
}

// NewHoldoff creates a holdoff. initial <= 0 disables it.
func NewHoldoff(initial, max time.Duration) *Holdoff {
	return &Holdoff{
		initial: initial,
		max:     max,
		peers:   make(map[link.Identity]*holdoffEntry),
		now:     time.Now,
	}
}

// Allow reports whether id may be connected to now.
func (h *Holdoff) Allow(id link.Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.peers[id]
	if !ok {
		return true
	}
	return !h.now().Before(e.until)
}

// Fail records a failed attempt and returns how long id is held off.
func (h *Holdoff) Fail(id link.Identity) time.Duration {
	if h.initial <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.peers[id]
	if !ok {
		e = &holdoffEntry{backoff: NewBackoff(h.initial, h.max)}
		h.peers[id] = e
	}
	d := e.backoff.Next()
	e.until = h.now().Add(d)
	return d
}

// Succeed clears any holdoff for id.
func (h *Holdoff) Succeed(id link.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}
