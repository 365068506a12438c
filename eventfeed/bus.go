// Package eventfeed exposes a running node to an application or UI: a
// fan-out bus of node events, streamed over WebSocket, plus a small JSON API
// for endpoint snapshots and sending messages.
package eventfeed

import (
	"sync"
	"time"

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/payload"
)

// EventType classifies a node event for feed clients.
type EventType string

const (
	EventState        EventType = "state"
	EventMessage      EventType = "message"
	EventSendComplete EventType = "send_complete"
	EventCandidate    EventType = "candidate"
)

// subscriberBuffer is how many events a slow client may lag before drops.
const subscriberBuffer = 64

// Event is the JSON envelope sent to feed clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateData is the payload of an EventState event.
type StateData struct {
	Endpoint  link.Identity `json:"endpoint"`
	Direction string        `json:"direction"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Event     string        `json:"event"`
	Cause     string        `json:"cause,omitempty"`
}

// MessageData is the payload of an EventMessage event. Body is base64 in
// JSON; Text is a printable rendering of it.
type MessageData struct {
	Endpoint link.Identity `json:"endpoint"`
	Size     int           `json:"size"`
	Body     []byte        `json:"body"`
	Text     string        `json:"text"`
}

// SendData is the payload of an EventSendComplete event.
type SendData struct {
	Endpoint link.Identity `json:"endpoint"`
	Size     int           `json:"size"`
}

// CandidateData is the payload of an EventCandidate event.
type CandidateData struct {
	Endpoint    link.Identity `json:"endpoint"`
	RSSI        int           `json:"rssi"`
	LocalName   string        `json:"local_name,omitempty"`
	CentralRole bool          `json:"central_role"`
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// Bus fans node events out to every subscriber. It implements
// coordinator.Observer, so it can be handed straight to NewNode.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	now func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), now: time.Now}
}

// Subscribe registers a client. The returned function unsubscribes and
// closes the channel; calling it more than once is harmless.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish delivers e to every subscriber. A subscriber whose buffer is full
// misses the event rather than stalling the node's dispatcher.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) OnLifecycleStateChanged(c coordinator.StateChange) {
	d := StateData{
		Endpoint:  c.Endpoint,
		Direction: c.Direction.String(),
		From:      c.From.String(),
		To:        c.To.String(),
		Event:     c.Event.String(),
	}
	if c.Cause != nil {
		d.Cause = c.Cause.Error()
	}
	b.Publish(Event{Type: EventState, Timestamp: c.At.UTC(), Data: d})
}

func (b *Bus) OnMessageReceived(id link.Identity, msg []byte) {
	b.Publish(Event{Type: EventMessage, Data: MessageData{
		Endpoint: id,
		Size:     len(msg),
		Body:     msg,
		Text:     payload.Render(msg),
	}})
}

func (b *Bus) OnSendComplete(id link.Identity, size int) {
	b.Publish(Event{Type: EventSendComplete, Data: SendData{Endpoint: id, Size: size}})
}

func (b *Bus) OnCandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement) {
	b.Publish(Event{Type: EventCandidate, Data: CandidateData{
		Endpoint:    id,
		RSSI:        rssi,
		LocalName:   adv.LocalName,
		CentralRole: adv.CentralRole,
	}})
}
