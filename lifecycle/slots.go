package lifecycle

import "code.hybscloud.com/atomix"

// DefaultMaxConnections matches CoreBluetooth's practical per-central limit.
const DefaultMaxConnections = 10

// Slots is the global connection cap shared by every endpoint.
type Slots struct {
	max  int32
	used atomix.Int32
}

// NewSlots creates a cap of max concurrent endpoints (minimum 1).
func NewSlots(max int) *Slots {
	if max < 1 {
		max = 1
	}
	return &Slots{max: int32(max)}
}

// TryAcquire takes a slot if one is free.
func (s *Slots) TryAcquire() bool {
	for {
		n := s.used.Load()
		if n >= s.max {
			return false
		}
		if s.used.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a slot. Extra releases are ignored.
func (s *Slots) Release() {
	for {
		n := s.used.Load()
		if n <= 0 {
			return
		}
		if s.used.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Used is the number of held slots.
func (s *Slots) Used() int { return int(s.used.Load()) }

// Max is the configured cap.
func (s *Slots) Max() int { return int(s.max) }

// Full reports whether no slot is free.
func (s *Slots) Full() bool { return s.used.Load() >= s.max }
