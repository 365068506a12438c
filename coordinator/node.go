// Package coordinator binds the lifecycle, sender and receiver of every
// connected peer together and exposes the application surface: SendMessage,
// and Observer callbacks for received messages and state changes.
//
// Each peer is owned by one endpoint actor goroutine that consumes transport
// events from a mailbox, so a peer's cursor, reassembly buffer and lifecycle
// state are never touched from two goroutines. The only state shared across
// peers is the node-level table (endpoints, candidates, scan state) behind
// Node.mu and the atomic connection cap.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/util"
)

// Node is one device running the transfer protocol against many peers.
type Node struct {
	radio  link.Radio
	opts   Options
	prefix string

	slots   *lifecycle.Slots
	holdoff *lifecycle.Holdoff
	events  *dispatcher

	mu         sync.Mutex
	endpoints  map[link.Identity]*endpoint
	candidates *lifecycle.Candidates
	powered    bool
	started    bool
	scanning   bool
	closed     bool
	greeting   []byte

	done chan struct{}
	wg   sync.WaitGroup
}

// NewNode creates a node driving radio. Register it with the transport as its
// link.Events before the transport starts, then call Start.
func NewNode(radio link.Radio, opts Options, observers ...Observer) *Node {
	opts.normalize()
	return &Node{
		radio:      radio,
		opts:       opts,
		prefix:     util.ShortHash(opts.DeviceID) + " Node",
		slots:      lifecycle.NewSlots(opts.MaxConnections),
		holdoff:    lifecycle.NewHoldoff(opts.ReconnectInitial, opts.ReconnectMax),
		events:     newDispatcher(observers),
		endpoints:  make(map[link.Identity]*endpoint),
		candidates: lifecycle.NewCandidates(),
		greeting:   opts.Greeting,
		done:       make(chan struct{}),
	}
}

// AddObserver registers another observer.
func (n *Node) AddObserver(o Observer) {
	n.events.add(o)
}

// SetGreeting replaces the payload sent to peers that become Ready from now
// on. nil disables it.
func (n *Node) SetGreeting(payload []byte) {
	n.mu.Lock()
	n.greeting = payload
	n.mu.Unlock()
}

func (n *Node) currentGreeting() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.greeting
}

// Options returns the node's effective options.
func (n *Node) Options() Options {
	return n.opts
}

// Start arms discovery. The node shuts down when ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.started = true
	n.rearmLocked()
	n.mu.Unlock()

	logger.Info(n.prefix, "▶️  started roles=%s central=%v peripheral=%v cap=%d",
		n.opts.Roles, n.opts.Central, n.opts.Peripheral, n.opts.MaxConnections)

	go func() {
		select {
		case <-ctx.Done():
			n.Close()
		case <-n.done:
		}
	}()
	return nil
}

// Close tears down every endpoint and stops event delivery. It is idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	if n.scanning {
		n.radio.StopScan()
		n.scanning = false
	}
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
	n.events.close()
	logger.Info(n.prefix, "⏹️  closed")
	return nil
}

// SendMessage queues payload for id. It returns once the payload is accepted
// by the endpoint's sender, not when it has been transmitted; completion is
// reported through Observer.OnSendComplete.
func (n *Node) SendMessage(ctx context.Context, id link.Identity, payload []byte) error {
	ep := n.lookup(id)
	if ep == nil {
		return fmt.Errorf("send to %s: %w", id.Short(), ErrUnknownEndpoint)
	}

	reply := make(chan error, 1)
	if err := ep.postCtx(ctx, message{kind: msgSend, payload: payload, reply: reply}); err != nil {
		return fmt.Errorf("send to %s: %w", id.Short(), err)
	}
	select {
	case err := <-reply:
		if err != nil {
			return fmt.Errorf("send to %s: %w", id.Short(), err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-ep.quit:
		return fmt.Errorf("send to %s: %w", id.Short(), ErrNotReady)
	}
}

// Broadcast sends payload to every Ready endpoint and returns how many
// accepted it.
func (n *Node) Broadcast(ctx context.Context, payload []byte) int {
	sent := 0
	for _, info := range n.Endpoints() {
		if info.State != lifecycle.StateReady {
			continue
		}
		if err := n.SendMessage(ctx, info.ID, payload); err != nil {
			logger.Debug(n.prefix, "broadcast skipped %s: %v", info.ID.Short(), err)
			continue
		}
		sent++
	}
	return sent
}

// Connect dials a discovered candidate. Used when AutoConnect is off.
func (n *Node) Connect(id link.Identity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if _, ok := n.endpoints[id]; ok {
		return fmt.Errorf("connect %s: %w", id.Short(), ErrAlreadyConnected)
	}
	if _, ok := n.candidates.RSSI(id); !ok {
		return fmt.Errorf("connect %s: %w", id.Short(), ErrUnknownEndpoint)
	}
	if !n.slots.TryAcquire() {
		return fmt.Errorf("connect %s: %w", id.Short(), ErrCapReached)
	}
	ep := n.spawnLocked(id, DirectionCentral)
	ep.post(message{kind: msgDial})
	n.pauseIfFullLocked()
	return nil
}

// Disconnect tears down the endpoint for id.
func (n *Node) Disconnect(id link.Identity) error {
	ep := n.lookup(id)
	if ep == nil {
		return fmt.Errorf("disconnect %s: %w", id.Short(), ErrUnknownEndpoint)
	}
	ep.invalidate(ErrDisconnectRequest)
	return nil
}

// Endpoints returns a snapshot of every tracked endpoint, sorted by identity.
func (n *Node) Endpoints() []EndpointInfo {
	n.mu.Lock()
	eps := make([]*endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		eps = append(eps, ep)
	}
	n.mu.Unlock()

	out := make([]EndpointInfo, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Endpoint returns the snapshot for one identity.
func (n *Node) Endpoint(id link.Identity) (EndpointInfo, bool) {
	ep := n.lookup(id)
	if ep == nil {
		return EndpointInfo{}, false
	}
	return ep.snapshot(), true
}

// Scanning reports whether discovery is currently armed.
func (n *Node) Scanning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scanning
}

func (n *Node) lookup(id link.Identity) *endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *Node) spawnLocked(id link.Identity, dir Direction) *endpoint {
	ep := newEndpoint(n, id, dir)
	n.endpoints[id] = ep
	n.wg.Add(1)
	go ep.run()
	return ep
}

// rearmLocked starts scanning when the node is central, powered, started and
// below the cap; it stops scanning when any of those stop holding.
func (n *Node) rearmLocked() {
	want := n.started && !n.closed && n.powered && n.opts.Central && !n.slots.Full()
	switch {
	case want && !n.scanning:
		if err := n.radio.StartScan(n.opts.Filter.Service); err != nil {
			logger.Warn(n.prefix, "⚠️  scan start failed: %v", err)
			return
		}
		n.scanning = true
		logger.Debug(n.prefix, "🔍 scanning for %s", n.opts.Filter.Service)
	case !want && n.scanning:
		n.radio.StopScan()
		n.scanning = false
		logger.Debug(n.prefix, "⏸️  scanning paused (%d/%d)", n.slots.Used(), n.slots.Max())
	}
}

func (n *Node) pauseIfFullLocked() {
	if n.slots.Full() {
		n.rearmLocked()
	}
}

// retire removes ep from the table and frees its slot. Called by the actor
// after cleanup, exactly once per endpoint.
func (n *Node) retire(ep *endpoint, cause error, wasReady bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.endpoints[ep.id]; ok && cur == ep {
		delete(n.endpoints, ep.id)
	}
	n.slots.Release()
	n.candidates.Forget(ep.id)
	if !wasReady && cause != nil && lifecycle.Recoverable(cause) &&
		!errors.Is(cause, ErrClosed) && !errors.Is(cause, ErrDisconnectRequest) {
		d := n.holdoff.Fail(ep.id)
		logger.Debug(n.prefix, "⏳ holding off %s for %v", ep.id.Short(), d)
	}
	n.rearmLocked()
}

// --- link.Events -----------------------------------------------------------

var _ link.Events = (*Node)(nil)

func (n *Node) PowerStateChanged(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.powered = on
	if on {
		logger.Info(n.prefix, "🔌 transport powered on")
		n.rearmLocked()
		return
	}

	logger.Warn(n.prefix, "🔌 transport powered off, invalidating %d endpoints", len(n.endpoints))
	n.scanning = false
	n.candidates.Reset()
	for _, ep := range n.endpoints {
		ep.invalidate(lifecycle.ErrTransportUnavailable)
	}
}

func (n *Node) CandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.started || !n.opts.Central {
		return
	}
	if !n.opts.Filter.Accept(rssi, adv) {
		logger.Trace(n.prefix, "ignoring %s rssi=%d", id.Short(), rssi)
		return
	}
	if _, tracked := n.endpoints[id]; tracked {
		return
	}
	// At the cap new results are not recorded, so the peer is rediscovered
	// once a slot frees up.
	if n.slots.Full() {
		return
	}
	if !n.holdoff.Allow(id) {
		return
	}
	if !n.candidates.Observe(id, rssi) {
		return
	}

	logger.Debug(n.prefix, "📡 candidate %s rssi=%d name=%q", id.Short(), rssi, adv.LocalName)
	n.events.emit(func(o Observer) { o.OnCandidateDiscovered(id, rssi, adv) })

	if !n.opts.AutoConnect {
		return
	}
	if adv.CentralRole && n.opts.Peripheral && string(id) < n.opts.DeviceID {
		// The peer dials us.
		return
	}
	if !n.slots.TryAcquire() {
		n.candidates.Forget(id)
		return
	}
	ep := n.spawnLocked(id, DirectionCentral)
	ep.post(message{kind: msgDial})
	n.pauseIfFullLocked()
}

func (n *Node) Accepted(id link.Identity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.opts.Peripheral {
		n.radio.Cancel(id)
		return
	}
	if _, tracked := n.endpoints[id]; tracked {
		logger.Debug(n.prefix, "inbound %s already tracked", id.Short())
		return
	}
	if !n.slots.TryAcquire() {
		logger.Warn(n.prefix, "🚫 refusing %s: cap %d reached", id.Short(), n.slots.Max())
		n.radio.Cancel(id)
		return
	}
	ep := n.spawnLocked(id, DirectionPeripheral)
	ep.post(message{kind: msgAccepted})
	n.pauseIfFullLocked()
}

// Connected for an identity with no endpoint means the connection outlived
// its lifecycle (or was never ours); it is dropped rather than adopted.
func (n *Node) Connected(id link.Identity) {
	if ep := n.lookup(id); ep != nil {
		ep.post(message{kind: msgConnected})
		return
	}
	logger.Debug(n.prefix, "dropping untracked connection %s", id.Short())
	n.radio.Cancel(id)
}

func (n *Node) ConnectFailed(id link.Identity, err error) {
	n.route(id, message{kind: msgConnectFailed, err: err})
}

func (n *Node) ServicesFound(id link.Identity) {
	n.route(id, message{kind: msgServicesFound})
}

func (n *Node) ServiceDiscoveryFailed(id link.Identity, err error) {
	n.route(id, message{kind: msgServiceError, err: err})
}

func (n *Node) ServicesInvalidated(id link.Identity) {
	n.route(id, message{kind: msgServicesInvalidated})
}

func (n *Node) CharacteristicsFound(id link.Identity) {
	n.route(id, message{kind: msgCharacteristicsFound})
}

func (n *Node) CharacteristicDiscoveryFailed(id link.Identity, err error) {
	n.route(id, message{kind: msgCharacteristicError, err: err})
}

func (n *Node) SubscriptionConfirmed(id link.Identity, l link.Link) {
	n.route(id, message{kind: msgSubscribed, link: l})
}

func (n *Node) Disconnected(id link.Identity, err error) {
	n.route(id, message{kind: msgDisconnected, err: err})
}

func (n *Node) CapacityAvailable(id link.Identity) {
	n.route(id, message{kind: msgCapacity})
}

func (n *Node) BytesReceived(id link.Identity, data []byte) {
	n.route(id, message{kind: msgBytes, data: append([]byte(nil), data...)})
}

// route delivers a transport event to its endpoint. Events for identities
// with no endpoint are stale (the endpoint was torn down) and are dropped.
func (n *Node) route(id link.Identity, m message) {
	ep := n.lookup(id)
	if ep == nil {
		logger.Trace(n.prefix, "stale %s for %s dropped", m.kind, id.Short())
		return
	}
	ep.post(m)
}
