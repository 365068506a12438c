package coordinator

import (
	"sync"
	"time"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
)

// StateChange describes one accepted lifecycle transition.
type StateChange struct {
	Endpoint  link.Identity
	Direction Direction
	From      lifecycle.State
	To        lifecycle.State
	Event     lifecycle.Event
	Cause     error // set on failure transitions
	At        time.Time
}

// Observer receives the application-facing events of a Node. Callbacks run
// on a single dispatcher goroutine in the order the events happened; they may
// call back into the Node, including Close.
type Observer interface {
	OnLifecycleStateChanged(c StateChange)
	OnMessageReceived(id link.Identity, msg []byte)
	OnSendComplete(id link.Identity, size int)
	OnCandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged        func(c StateChange)
	MessageReceived     func(id link.Identity, msg []byte)
	SendComplete        func(id link.Identity, size int)
	CandidateDiscovered func(id link.Identity, rssi int, adv link.Advertisement)
}

func (f ObserverFuncs) OnLifecycleStateChanged(c StateChange) {
	if f.StateChanged != nil {
		f.StateChanged(c)
	}
}

func (f ObserverFuncs) OnMessageReceived(id link.Identity, msg []byte) {
	if f.MessageReceived != nil {
		f.MessageReceived(id, msg)
	}
}

func (f ObserverFuncs) OnSendComplete(id link.Identity, size int) {
	if f.SendComplete != nil {
		f.SendComplete(id, size)
	}
}

func (f ObserverFuncs) OnCandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement) {
	if f.CandidateDiscovered != nil {
		f.CandidateDiscovered(id, rssi, adv)
	}
}

// dispatcher delivers observer callbacks off the endpoint actors so a slow
// observer never stalls the transfer path. Ordering is preserved.
type dispatcher struct {
	mu        sync.Mutex
	queue     []func(Observer)
	observers []Observer
	busy      bool // a batch of callbacks is running
	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
}

func newDispatcher(observers []Observer) *dispatcher {
	d := &dispatcher{
		observers: append([]Observer(nil), observers...),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) add(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

func (d *dispatcher) emit(fn func(Observer)) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		observers := d.observers
		d.busy = len(batch) > 0
		d.mu.Unlock()

		if len(batch) > 0 {
			d.deliver(batch, observers)
			continue
		}

		select {
		case <-d.wake:
		case <-d.stop:
			// Drain whatever was queued before close.
			d.mu.Lock()
			batch = d.queue
			d.queue = nil
			d.busy = len(batch) > 0
			d.mu.Unlock()
			d.deliver(batch, observers)
			return
		}
	}
}

func (d *dispatcher) deliver(batch []func(Observer), observers []Observer) {
	for _, fn := range batch {
		for _, o := range observers {
			fn(o)
		}
	}
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

// close stops the dispatcher and waits for queued callbacks to drain. When a
// callback is running, which is the case for Close called from an observer,
// it returns without waiting and the dispatcher exits after that batch.
func (d *dispatcher) close() {
	d.mu.Lock()
	busy := d.busy
	d.mu.Unlock()
	close(d.stop)
	if !busy {
		<-d.stopped
	}
}
