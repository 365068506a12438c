// Package wire simulates a BLE controller over Unix domain sockets.
//
// Every advertising device listens on {dataDir}/sockets/bluexfer-{id}.sock
// and publishes its advertising and scan response PDUs under
// {dataDir}/{id}/advertising.bin. Scanning globs the socket directory. One
// stream connection carries L2CAP frames both ways; the dialing side is the
// GATT client and the listening side serves the transfer table.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/util"
	"github.com/user/bluexfer/wire/gatt"
)

const (
	socketPrefix   = "bluexfer-"
	socketSuffix   = ".sock"
	advertisingBin = "advertising.bin"
	maxIdentityLen = 256
)

// Wire implements link.Radio for one simulated device.
type Wire struct {
	cfg     Config
	prefix  string
	sim     *Simulator
	journal *Journal
	table   *gatt.TransferTable

	socketDir  string
	socketPath string
	advPath    string

	evMu   sync.RWMutex
	events link.Events

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	listener net.Listener
	conns    map[link.Identity]*conn
	dialing  map[link.Identity]chan struct{} // closed on Cancel
	scanStop chan struct{}

	wg sync.WaitGroup
}

var _ link.Radio = (*Wire)(nil)

// New creates a device. Nothing touches the filesystem until Start.
func New(cfg Config) (*Wire, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("wire: device ID is required")
	}
	if strings.ContainsAny(cfg.DeviceID, `/\`) {
		return nil, fmt.Errorf("wire: invalid device ID %q", cfg.DeviceID)
	}
	cfg.normalize()

	socketDir, err := util.GetSocketDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	return &Wire{
		cfg:        cfg,
		prefix:     util.ShortHash(cfg.DeviceID) + " Wire",
		sim:        NewSimulator(cfg.Simulation),
		journal:    NewJournal(cfg.DataDir, cfg.DeviceID, cfg.Journal),
		table:      gatt.NewTransferTable(cfg.DeviceName, cfg.Service, cfg.RxCharacteristic, cfg.TxCharacteristic),
		socketDir:  socketDir,
		socketPath: socketPathFor(socketDir, link.Identity(cfg.DeviceID)),
		advPath:    filepath.Join(util.GetDeviceDir(cfg.DataDir, cfg.DeviceID), advertisingBin),
		conns:      make(map[link.Identity]*conn),
		dialing:    make(map[link.Identity]chan struct{}),
	}, nil
}

// Config returns the normalized configuration.
func (w *Wire) Config() Config {
	return w.cfg
}

// SetEvents installs the event sink. It must be called before Start.
func (w *Wire) SetEvents(ev link.Events) {
	w.evMu.Lock()
	w.events = ev
	w.evMu.Unlock()
}

func (w *Wire) ev() link.Events {
	w.evMu.RLock()
	defer w.evMu.RUnlock()
	return w.events
}

// Start powers the radio on: it starts listening when advertising, publishes
// the advertisement and reports PowerStateChanged(true).
func (w *Wire) Start() error {
	if w.ev() == nil {
		return ErrNoEvents
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	if w.cfg.Advertise {
		os.Remove(w.socketPath)
		l, err := net.Listen("unix", w.socketPath)
		if err != nil {
			w.mu.Unlock()
			return fmt.Errorf("wire: listen on %s: %w", w.socketPath, err)
		}
		if err := w.publishAdvertisement(); err != nil {
			l.Close()
			os.Remove(w.socketPath)
			w.mu.Unlock()
			return err
		}
		w.listener = l
		w.journal.SocketCreated(w.socketPath)
	}

	w.running = true
	w.stop = make(chan struct{})
	if w.listener != nil {
		w.wg.Add(1)
		go w.acceptLoop(w.listener, w.stop)
	}
	w.mu.Unlock()

	logger.Info(w.prefix, "📻 radio on (advertise=%v, mtu=%d, queue=%d)",
		w.cfg.Advertise, w.cfg.MTU, queueCapacity(w.cfg.TxQueueDepth))
	w.ev().PowerStateChanged(true)
	return nil
}

// Stop powers the radio off. Open connections are dropped without
// per-connection events; PowerStateChanged(false) covers them.
func (w *Wire) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	if w.scanStop != nil {
		close(w.scanStop)
		w.scanStop = nil
	}
	for id, cancel := range w.dialing {
		close(cancel)
		delete(w.dialing, id)
	}
	conns := w.conns
	w.conns = make(map[link.Identity]*conn)
	l := w.listener
	w.listener = nil
	w.mu.Unlock()

	w.ev().PowerStateChanged(false)

	if l != nil {
		l.Close()
		os.Remove(w.socketPath)
		os.Remove(w.advPath)
		w.journal.SocketClosed(w.socketPath)
	}
	for _, c := range conns {
		c.shutdown(ErrStopped)
	}
	w.wg.Wait()
	logger.Info(w.prefix, "📴 radio off")
}

// spawn runs fn on a tracked goroutine unless the radio is off.
func (w *Wire) spawn(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
	return true
}

func (w *Wire) acceptLoop(l net.Listener, stop <-chan struct{}) {
	defer w.wg.Done()
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn(w.prefix, "⚠️  accept failed: %v", err)
			continue
		}
		if !w.spawn(func() { w.handleInbound(nc, stop) }) {
			nc.Close()
		}
	}
}

// handleInbound completes a connection a central opened to us.
func (w *Wire) handleInbound(nc net.Conn, stop <-chan struct{}) {
	if !sleep(w.sim.ConnectionDelay(), stop, nil) {
		nc.Close()
		return
	}

	nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	peer, err := readHandshake(nc)
	nc.SetReadDeadline(time.Time{})
	if err != nil {
		logger.Warn(w.prefix, "❌ inbound handshake failed: %v", err)
		nc.Close()
		return
	}
	w.journal.ConnectionAccepted(peer)

	c := newConn(w, nc, peer, RolePeripheral)
	w.mu.Lock()
	if !w.running || w.conns[peer] != nil {
		w.mu.Unlock()
		logger.Debug(w.prefix, "dropping duplicate connection from %s", peer.Short())
		nc.Close()
		return
	}
	w.conns[peer] = c
	w.mu.Unlock()

	w.journal.ConnectionEstablished(RolePeripheral, peer, "")
	logger.Info(w.prefix, "🔗 accepted connection from %s", peer.Short())
	c.start()
	w.ev().Accepted(peer)
}

// Connect dials a discovered peer. The outcome arrives as Connected or
// ConnectFailed.
func (w *Wire) Connect(id link.Identity) error {
	if string(id) == w.cfg.DeviceID {
		return ErrSelfConnect
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrStopped
	}
	if w.conns[id] != nil || w.dialing[id] != nil {
		return ErrAlreadyConnected
	}

	cancel := make(chan struct{})
	w.dialing[id] = cancel
	stop := w.stop
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.dial(id, cancel, stop)
	}()
	logger.Debug(w.prefix, "connecting to %s", id.Short())
	return nil
}

func (w *Wire) dial(id link.Identity, cancel, stop <-chan struct{}) {
	fail := func(err error) {
		w.mu.Lock()
		current := w.dialing[id] == cancel
		if current {
			delete(w.dialing, id)
		}
		w.mu.Unlock()
		if !current {
			return
		}
		w.journal.ConnectFailed(id, err)
		logger.Warn(w.prefix, "❌ connect to %s failed: %v", id.Short(), err)
		w.ev().ConnectFailed(id, err)
	}

	if !sleep(w.sim.ConnectionDelay(), cancel, stop) {
		return
	}
	if !w.sim.ShouldConnectionSucceed() {
		fail(fmt.Errorf("%w: simulated failure", ErrConnectionFailed))
		return
	}

	path := socketPathFor(w.socketDir, id)
	nc, err := net.DialTimeout("unix", path, handshakeTimeout)
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}
	if err := writeHandshake(nc, w.cfg.DeviceID); err != nil {
		nc.Close()
		fail(fmt.Errorf("%w: handshake: %v", ErrConnectionFailed, err))
		return
	}

	c := newConn(w, nc, id, RoleCentral)
	w.mu.Lock()
	if !w.running || w.dialing[id] != cancel {
		w.mu.Unlock()
		nc.Close()
		return
	}
	delete(w.dialing, id)
	w.conns[id] = c
	w.mu.Unlock()

	w.journal.ConnectionEstablished(RoleCentral, id, path)
	c.start()

	if err := c.exchangeMTU(); err != nil {
		w.lose(c, err, func(ev link.Events, id link.Identity, err error) { ev.ConnectFailed(id, err) })
		return
	}
	if c.isClosed() {
		return
	}
	logger.Info(w.prefix, "🔗 connected to %s (mtu %d)", id.Short(), c.MTU())
	w.ev().Connected(id)
}

// Cancel drops the connection or pending dial to id. A subscribed central
// writes its CCCD back to zero first. No events are reported.
func (w *Wire) Cancel(id link.Identity) {
	w.mu.Lock()
	if cancel, ok := w.dialing[id]; ok {
		close(cancel)
		delete(w.dialing, id)
	}
	c := w.conns[id]
	if c != nil {
		delete(w.conns, id)
	}
	w.mu.Unlock()

	if c == nil {
		return
	}
	c.unsubscribe()
	if c.shutdown(nil) {
		logger.Debug(w.prefix, "cancelled connection to %s", id.Short())
	}
}

// lose tears c down after a failure and reports it once.
func (w *Wire) lose(c *conn, err error, report func(link.Events, link.Identity, error)) {
	if !c.shutdown(err) {
		return
	}
	w.mu.Lock()
	if w.conns[c.peer] == c {
		delete(w.conns, c.peer)
	}
	w.mu.Unlock()
	logger.Warn(w.prefix, "🔌 lost %s: %v", c.peer.Short(), err)
	report(w.ev(), c.peer, err)
}

func reportDisconnected(ev link.Events, id link.Identity, err error) {
	ev.Disconnected(id, err)
}

func (w *Wire) lookup(id link.Identity) *conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[id]
}

// Connections returns the identities with an open connection.
func (w *Wire) Connections() []link.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]link.Identity, 0, len(w.conns))
	for id := range w.conns {
		ids = append(ids, id)
	}
	return ids
}

// MTU returns the negotiated ATT MTU with id, or 0 when not connected.
func (w *Wire) MTU(id link.Identity) int {
	if c := w.lookup(id); c != nil {
		return c.MTU()
	}
	return 0
}

func socketPathFor(dir string, id link.Identity) string {
	return filepath.Join(dir, socketPrefix+string(id)+socketSuffix)
}

func identityFromSocket(path string) link.Identity {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, socketPrefix) || !strings.HasSuffix(name, socketSuffix) {
		return ""
	}
	return link.Identity(strings.TrimSuffix(strings.TrimPrefix(name, socketPrefix), socketSuffix))
}

// Handshake: [length uint32 BE][device id]
func writeHandshake(w io.Writer, id string) error {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(id)))
	_, err := w.Write(append(buf, id...))
	return err
}

func readHandshake(r io.Reader) (link.Identity, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if n == 0 || n > maxIdentityLen {
		return "", fmt.Errorf("%w: identity length %d", ErrInvalidHandshake, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return link.Identity(buf), nil
}

// sleep waits d and reports false if a or b closes first. Either may be nil.
func sleep(d time.Duration, a, b <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-a:
			return false
		case <-b:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-a:
		return false
	case <-b:
		return false
	case <-t.C:
		return true
	}
}
