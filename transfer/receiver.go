package transfer

// Receiver reassembles chunks into messages delimited by a Sentinel frame.
//
// Chunks are assumed to arrive in send order without gaps; no reordering or
// loss detection is attempted. The buffer is unbounded, callers that need a
// ceiling check Len after each Feed.
type Receiver struct {
	sentinel Sentinel
	buf      []byte
	chunks   int
}

// NewReceiver creates a receiver that ends messages on s.
func NewReceiver(s Sentinel) *Receiver {
	if len(s) == 0 {
		s = DefaultSentinel
	}
	return &Receiver{sentinel: s}
}

// Feed consumes one inbound chunk. When chunk is the sentinel, the current
// buffer is returned as a completed message and a fresh buffer is started;
// otherwise the chunk is appended and ok is false.
func (r *Receiver) Feed(chunk []byte) (msg []byte, ok bool) {
	if r.sentinel.Matches(chunk) {
		msg = r.buf
		if msg == nil {
			msg = []byte{}
		}
		r.buf = nil
		r.chunks = 0
		return msg, true
	}
	r.buf = append(r.buf, chunk...)
	r.chunks++
	return nil, false
}

// Len is the number of bytes buffered for the message in flight.
func (r *Receiver) Len() int { return len(r.buf) }

// Chunks is the number of data chunks buffered for the message in flight.
func (r *Receiver) Chunks() int { return r.chunks }

// InFlight reports whether a partial message is buffered.
func (r *Receiver) InFlight() bool { return r.chunks > 0 }

// Reset drops any partial message.
func (r *Receiver) Reset() {
	r.buf = nil
	r.chunks = 0
}
