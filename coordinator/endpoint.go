package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/transfer"
)

type msgKind int

const (
	msgDial msgKind = iota
	msgAccepted
	msgConnected
	msgConnectFailed
	msgServicesFound
	msgServiceError
	msgServicesInvalidated
	msgCharacteristicsFound
	msgCharacteristicError
	msgSubscribed
	msgDisconnected
	msgCapacity
	msgBytes
	msgSend
)

func (k msgKind) String() string {
	switch k {
	case msgDial:
		return "dial"
	case msgAccepted:
		return "accepted"
	case msgConnected:
		return "connected"
	case msgConnectFailed:
		return "connectFailed"
	case msgServicesFound:
		return "servicesFound"
	case msgServiceError:
		return "serviceError"
	case msgServicesInvalidated:
		return "servicesInvalidated"
	case msgCharacteristicsFound:
		return "characteristicsFound"
	case msgCharacteristicError:
		return "characteristicError"
	case msgSubscribed:
		return "subscribed"
	case msgDisconnected:
		return "disconnected"
	case msgCapacity:
		return "capacity"
	case msgBytes:
		return "bytes"
	case msgSend:
		return "send"
	default:
		return "unknown"
	}
}

type message struct {
	kind    msgKind
	err     error
	link    link.Link
	data    []byte
	payload []byte
	reply   chan error
}

// endpoint is the actor owning one peer. Everything below mu is written only
// by run(); mu guards the published snapshot.
type endpoint struct {
	node   *Node
	id     link.Identity
	dir    Direction
	prefix string

	mailbox chan message
	kill    chan error
	quit    chan struct{}

	machine  *lifecycle.Machine
	sender   *transfer.Sender
	receiver *transfer.Receiver
	link     link.Link // valid only while Ready
	pending  link.Link // handed over by SubscriptionConfirmed, adopted on Activate
	wasReady bool
	dropping bool // discarding an oversized inbound message until its sentinel
	retired  bool
	cause    error

	mu   sync.Mutex
	info EndpointInfo
}

func newEndpoint(n *Node, id link.Identity, dir Direction) *endpoint {
	ep := &endpoint{
		node:     n,
		id:       id,
		dir:      dir,
		prefix:   n.prefix + " " + id.Short(),
		mailbox:  make(chan message, n.opts.MailboxSize),
		kill:     make(chan error, 1),
		quit:     make(chan struct{}),
		machine:  lifecycle.NewMachine(),
		sender:   transfer.NewSender(n.opts.Sentinel),
		receiver: transfer.NewReceiver(n.opts.Sentinel),
	}
	ep.info = EndpointInfo{ID: id, Direction: dir, State: lifecycle.StateIdle}
	return ep
}

// post enqueues a transport event. Events for an endpoint that has already
// exited are dropped.
func (e *endpoint) post(m message) {
	select {
	case e.mailbox <- m:
	case <-e.quit:
	}
}

func (e *endpoint) postCtx(ctx context.Context, m message) error {
	select {
	case e.mailbox <- m:
		return nil
	case <-e.quit:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invalidate requests teardown without blocking. The first cause wins.
func (e *endpoint) invalidate(cause error) {
	select {
	case e.kill <- cause:
	default:
	}
}

func (e *endpoint) run() {
	defer e.node.wg.Done()
	defer close(e.quit)

	for !e.retired {
		select {
		case m := <-e.mailbox:
			e.handle(m)
		case err := <-e.kill:
			e.abort(err)
		case <-e.node.done:
			e.abort(ErrClosed)
		}
		e.publish()
	}
	e.drain()
}

// drain answers SendMessage callers that raced with teardown.
func (e *endpoint) drain() {
	for {
		select {
		case m := <-e.mailbox:
			if m.reply != nil {
				m.reply <- ErrNotReady
			}
		default:
			return
		}
	}
}

func (e *endpoint) handle(m message) {
	switch m.kind {
	case msgDial:
		e.fire(lifecycle.EventStart, nil)
		e.fire(lifecycle.EventCandidateFound, nil)
	case msgAccepted:
		e.fire(lifecycle.EventAccepted, nil)
	case msgConnected:
		e.fire(lifecycle.EventConnected, nil)
	case msgConnectFailed:
		e.fail(lifecycle.EventConnectFailed, wrapCause(lifecycle.ErrConnectFailed, m.err))
	case msgServicesFound:
		e.fire(lifecycle.EventServicesFound, nil)
	case msgServiceError:
		e.fail(lifecycle.EventServiceError, wrapCause(lifecycle.ErrServiceDiscoveryFailed, m.err))
	case msgServicesInvalidated:
		e.fire(lifecycle.EventServicesInvalidated, nil)
	case msgCharacteristicsFound:
		e.fire(lifecycle.EventCharacteristicsFound, nil)
	case msgCharacteristicError:
		e.fail(lifecycle.EventCharacteristicError, wrapCause(lifecycle.ErrCharacteristicDiscoveryFailed, m.err))
	case msgSubscribed:
		e.pending = m.link
		e.fire(lifecycle.EventSubscribed, nil)
		e.pending = nil
	case msgDisconnected:
		e.fail(lifecycle.EventDisconnected, wrapCause(lifecycle.ErrLinkInvalidated, m.err))
	case msgCapacity:
		e.pump()
	case msgBytes:
		e.receive(m.data)
	case msgSend:
		m.reply <- e.send(m.payload)
	}
}

func wrapCause(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// abort tears the endpoint down from any state. An endpoint still in Idle
// has no lifecycle to unwind but may already hold a transport connection.
func (e *endpoint) abort(cause error) {
	e.fail(lifecycle.EventLinkInvalidated, cause)
	if !e.retired {
		e.node.radio.Cancel(e.id)
		e.retire(cause)
	}
}

func (e *endpoint) fail(ev lifecycle.Event, cause error) {
	e.cause = cause
	e.fire(ev, cause)
}

// fire applies ev to the lifecycle, reports the transition and performs the
// resulting action. Rejected events are logged and otherwise ignored.
func (e *endpoint) fire(ev lifecycle.Event, cause error) {
	tr, ok := e.machine.Fire(ev)
	if !ok {
		logger.Trace(e.prefix, "ignored %s in %s", ev, tr.From)
		return
	}

	if cause != nil {
		logger.Warn(e.prefix, "🔻 %s → %s (%s): %v", tr.From, tr.To, ev, cause)
	} else {
		logger.Debug(e.prefix, "%s → %s (%s)", tr.From, tr.To, ev)
	}
	change := StateChange{
		Endpoint:  e.id,
		Direction: e.dir,
		From:      tr.From,
		To:        tr.To,
		Event:     ev,
		Cause:     cause,
		At:        time.Now(),
	}
	e.node.events.emit(func(o Observer) { o.OnLifecycleStateChanged(change) })

	if tr.From == lifecycle.StateReady && tr.To != lifecycle.StateReady {
		e.deactivate()
	}

	radio := e.node.radio
	switch tr.Action {
	case lifecycle.ActionConnect:
		if err := radio.Connect(e.id); err != nil {
			e.fail(lifecycle.EventConnectFailed, wrapCause(lifecycle.ErrConnectFailed, err))
		}
	case lifecycle.ActionDiscoverServices, lifecycle.ActionRediscover:
		if err := radio.DiscoverServices(e.id); err != nil {
			e.fail(lifecycle.EventServiceError, wrapCause(lifecycle.ErrServiceDiscoveryFailed, err))
		}
	case lifecycle.ActionDiscoverCharacteristics:
		if err := radio.DiscoverCharacteristics(e.id); err != nil {
			e.fail(lifecycle.EventCharacteristicError, wrapCause(lifecycle.ErrCharacteristicDiscoveryFailed, err))
		}
	case lifecycle.ActionSubscribe:
		if err := radio.Subscribe(e.id); err != nil {
			e.fail(lifecycle.EventCharacteristicError, wrapCause(lifecycle.ErrCharacteristicDiscoveryFailed, err))
		}
	case lifecycle.ActionActivate:
		e.activate()
	case lifecycle.ActionCleanup:
		e.cleanup()
	}
}

func (e *endpoint) activate() {
	e.link = e.pending
	e.wasReady = true
	e.node.holdoff.Succeed(e.id)

	e.mu.Lock()
	e.info.ConnectedAt = time.Now()
	e.mu.Unlock()

	mtu := 0
	if e.link != nil {
		mtu = e.link.MaxChunkSize()
	}
	logger.Info(e.prefix, "✅ ready as %s (chunk %d bytes)", e.dir, mtu)

	greeting := e.node.currentGreeting()
	if e.node.opts.Roles.Has(RoleSender) && len(greeting) > 0 {
		if err := e.send(greeting); err != nil {
			logger.Warn(e.prefix, "greeting not sent: %v", err)
		}
	}
}

// deactivate invalidates the link handle and drops any in-flight message in
// either direction. Nothing partial is delivered.
func (e *endpoint) deactivate() {
	if c, ok := e.sender.Cursor(); ok {
		logger.Warn(e.prefix, "🗑️  discarding outbound message at %d/%d bytes", c.Offset(), c.Len())
	}
	if e.receiver.InFlight() {
		logger.Warn(e.prefix, "🗑️  discarding partial inbound message (%d bytes)", e.receiver.Len())
	}
	e.link = nil
	e.sender.Reset()
	e.receiver.Reset()
	e.dropping = false
}

func (e *endpoint) cleanup() {
	e.deactivate()
	e.node.radio.Cancel(e.id)
	e.fire(lifecycle.EventCleanupDone, nil)
	e.retire(e.cause)
}

func (e *endpoint) retire(cause error) {
	if e.retired {
		return
	}
	e.retired = true
	e.node.retire(e, cause, e.wasReady)
}

func (e *endpoint) send(payload []byte) error {
	opts := e.node.opts
	if !opts.Roles.Has(RoleSender) {
		return ErrRoleDisabled
	}
	if e.machine.State() != lifecycle.StateReady || e.link == nil {
		return ErrNotReady
	}
	if opts.MaxMessageBytes > 0 && len(payload) > opts.MaxMessageBytes {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), opts.MaxMessageBytes)
	}
	if err := e.sender.Enqueue(payload); err != nil {
		return err
	}
	logger.Debug(e.prefix, "📤 queued %d bytes", len(payload))
	e.pump()
	return nil
}

// pump drives the sender. Capacity events with nothing queued, or arriving
// outside Ready, are no-ops.
func (e *endpoint) pump() {
	if e.machine.State() != lifecycle.StateReady || e.link == nil {
		return
	}
	p := e.sender.Pump(e.link)

	e.mu.Lock()
	e.info.BytesSent += int64(p.Bytes)
	e.info.ChunksSent += int64(p.Chunks)
	if p.Complete {
		e.info.MessagesSent++
	}
	e.mu.Unlock()

	if p.Blocked {
		logger.Trace(e.prefix, "⏸️  backpressure after %d chunks", p.Chunks)
	}
	if p.Complete {
		size := p.Total
		logger.Info(e.prefix, "📤 sent message (%d bytes)", size)
		e.node.events.emit(func(o Observer) { o.OnSendComplete(e.id, size) })
	}
}

func (e *endpoint) receive(chunk []byte) {
	opts := e.node.opts
	if !opts.Roles.Has(RoleReceiver) {
		logger.Trace(e.prefix, "receiver role off, dropping %d bytes", len(chunk))
		return
	}
	if e.machine.State() != lifecycle.StateReady {
		logger.Warn(e.prefix, "⚠️  %d bytes arrived in %s, dropped", len(chunk), e.machine.State())
		return
	}

	e.mu.Lock()
	e.info.BytesReceived += int64(len(chunk))
	e.mu.Unlock()

	if e.dropping {
		if opts.Sentinel.Matches(chunk) {
			e.dropping = false
		}
		return
	}

	msg, ok := e.receiver.Feed(chunk)
	if !ok {
		if opts.MaxMessageBytes > 0 && e.receiver.Len() > opts.MaxMessageBytes {
			logger.Warn(e.prefix, "⚠️  inbound message exceeds %d bytes, discarding", opts.MaxMessageBytes)
			e.receiver.Reset()
			e.dropping = true
		}
		return
	}

	e.mu.Lock()
	e.info.MessagesReceived++
	e.mu.Unlock()

	logger.Info(e.prefix, "📥 received message (%d bytes)", len(msg))
	e.node.events.emit(func(o Observer) { o.OnMessageReceived(e.id, msg) })
}

func (e *endpoint) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.State = e.machine.State()
	e.info.ReceiveBuffered = e.receiver.Len()
	if c, ok := e.sender.Cursor(); ok {
		e.info.Sending = true
		e.info.SendOffset = c.Offset()
		e.info.SendTotal = c.Len()
	} else {
		e.info.Sending = false
		e.info.SendOffset = 0
		e.info.SendTotal = 0
	}
	if e.link != nil {
		e.info.MaxChunkSize = e.link.MaxChunkSize()
	} else {
		e.info.MaxChunkSize = 0
	}
}

func (e *endpoint) snapshot() EndpointInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}
