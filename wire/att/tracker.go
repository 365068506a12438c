package att

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimeout is the ATT transaction timeout.
const DefaultTimeout = 30 * time.Second

var (
	ErrRequestPending = errors.New("att: request already pending")
	ErrTimeout        = errors.New("att: transaction timeout")
)

// Response completes one tracked request: either the matching response PDU
// or an error (timeout, Error Response, connection loss).
type Response struct {
	PDU PDU
	Err error
}

// Tracker enforces the single outstanding request per bearer rule and
// matches responses to it.
type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	pending *pendingRequest
}

type pendingRequest struct {
	opcode uint8
	respC  chan Response
	timer  *time.Timer
}

// NewTracker creates a tracker. A zero timeout means DefaultTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{timeout: timeout}
}

// Start registers a request and returns the channel its outcome is delivered
// on (exactly once, buffered).
func (t *Tracker) Start(opcode uint8) (<-chan Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return nil, ErrRequestPending
	}

	p := &pendingRequest{opcode: opcode, respC: make(chan Response, 1)}
	p.timer = time.AfterFunc(t.timeout, func() { t.finish(p, Response{Err: ErrTimeout}) })
	t.pending = p
	return p.respC, nil
}

// Complete offers an inbound PDU to the pending request. It reports whether
// the PDU was consumed as the response.
func (t *Tracker) Complete(pdu PDU) bool {
	t.mu.Lock()
	p := t.pending
	t.mu.Unlock()
	if p == nil {
		return false
	}

	switch r := pdu.(type) {
	case *ErrorResponse:
		if r.RequestOpcode != p.opcode {
			return false
		}
		return t.finish(p, Response{PDU: pdu, Err: r.Err()})
	default:
		if pdu.Opcode() != ResponseFor(p.opcode) {
			return false
		}
		return t.finish(p, Response{PDU: pdu})
	}
}

// Fail aborts the pending request, if any, with err.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	p := t.pending
	t.mu.Unlock()
	if p != nil {
		t.finish(p, Response{Err: err})
	}
}

// Pending returns the opcode of the outstanding request.
func (t *Tracker) Pending() (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return 0, false
	}
	return t.pending.opcode, true
}

func (t *Tracker) finish(p *pendingRequest, r Response) bool {
	t.mu.Lock()
	if t.pending != p {
		t.mu.Unlock()
		return false
	}
	t.pending = nil
	t.mu.Unlock()

	p.timer.Stop()
	p.respC <- r
	return true
}
