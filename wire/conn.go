package wire

import (
	"fmt"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/wire/att"
	"github.com/user/bluexfer/wire/gatt"
	"github.com/user/bluexfer/wire/l2cap"
)

// remoteHandles is what the client side learned about the peer's table.
type remoteHandles struct {
	serviceStart uint16
	serviceEnd   uint16
	rx           uint16
	tx           uint16
	cccd         uint16
	subscribed   bool
}

// conn is one simulated LE connection. The read loop dispatches inbound ATT
// PDUs; the write loop drains the data queue one frame per connection
// interval. Control PDUs bypass the queue.
type conn struct {
	w      *Wire
	nc     net.Conn
	peer   link.Identity
	role   ConnectionRole
	prefix string

	writeMu sync.Mutex
	tracker *att.Tracker
	subs    *gatt.Subscriptions

	mu     sync.Mutex
	mtu    int
	remote remoteHandles
	data   *dataLink
	// gate holds the read loop after a subscribe response until the
	// subscription has been reported, so no notification overtakes it.
	gate chan struct{}

	// txq has a single producer: whoever holds the link.
	txq     lfq.SPSC[[]byte]
	kick    chan struct{}
	refused atomix.Uint32
	closed  atomix.Uint32
	done    chan struct{}
}

func newConn(w *Wire, nc net.Conn, peer link.Identity, role ConnectionRole) *conn {
	c := &conn{
		w:       w,
		nc:      nc,
		peer:    peer,
		role:    role,
		prefix:  fmt.Sprintf("%s %s", w.prefix, peer.Short()),
		tracker: att.NewTracker(w.cfg.RequestTimeout),
		subs:    gatt.NewSubscriptions(),
		mtu:     l2cap.DefaultMTU,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.txq.Init(queueCapacity(w.cfg.TxQueueDepth))
	return c
}

func (c *conn) start() {
	if !c.w.spawn(c.readLoop) || !c.w.spawn(c.writeLoop) {
		c.shutdown(ErrStopped)
	}
}

// shutdown closes the connection. Only the first caller gets true.
func (c *conn) shutdown(cause error) bool {
	if c.closed.Add(1) != 1 {
		return false
	}
	close(c.done)
	c.nc.Close()
	if cause == nil {
		c.tracker.Fail(ErrNotConnected)
	} else {
		c.tracker.Fail(cause)
	}
	c.subs.Clear()
	c.w.journal.ConnectionClosed(c.role, c.peer, cause)
	return true
}

func (c *conn) isClosed() bool {
	return c.closed.Load() != 0
}

func (c *conn) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

func (c *conn) setMTU(mtu int) {
	mtu = l2cap.ClampMTU(mtu)
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
	c.w.journal.MTUNegotiated(c.role, c.peer, mtu)
	logger.Debug(c.prefix, "📏 MTU %d", mtu)
}

func (c *conn) readLoop() {
	for {
		p, err := l2cap.ReadPacket(c.nc)
		if err != nil {
			c.w.lose(c, fmt.Errorf("%w: %v", ErrLinkLost, err), reportDisconnected)
			return
		}
		if p.ChannelID != l2cap.ChannelATT {
			logger.Debug(c.prefix, "ignoring frame on channel 0x%04X", p.ChannelID)
			continue
		}
		pdu, err := att.Decode(p.Payload)
		if err != nil {
			logger.Warn(c.prefix, "⚠️  bad ATT PDU: %v", err)
			continue
		}
		logger.Trace(c.prefix, "📥 %s", att.OpcodeName(pdu.Opcode()))
		c.dispatch(pdu)
	}
}

func (c *conn) dispatch(pdu att.PDU) {
	if c.tracker.Complete(pdu) {
		c.mu.Lock()
		gate := c.gate
		c.gate = nil
		c.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-c.done:
			}
		}
		return
	}
	switch p := pdu.(type) {
	case *att.HandleValueNotification:
		c.onNotification(p)
	case *att.WriteCommand:
		c.onWriteCommand(p)
	case *att.ExchangeMTURequest, *att.ReadByGroupTypeRequest, *att.ReadByTypeRequest, *att.WriteRequest:
		c.serve(pdu)
	default:
		logger.Debug(c.prefix, "unexpected %s", att.OpcodeName(pdu.Opcode()))
	}
}

func (c *conn) writeLoop() {
	var seen uint32
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		}
		for {
			frame, err := c.txq.Dequeue()
			if err != nil {
				break
			}
			if err := c.writeFrame(frame); err != nil {
				c.w.lose(c, fmt.Errorf("%w: %v", ErrLinkLost, err), reportDisconnected)
				return
			}
			c.signalCapacity(&seen)
			if !c.pace() {
				return
			}
		}
		c.signalCapacity(&seen)
	}
}

// signalCapacity reports CapacityAvailable once for every run of refused
// sends since the last report.
func (c *conn) signalCapacity(seen *uint32) {
	n := c.refused.Load()
	if n == *seen || c.isClosed() {
		return
	}
	*seen = n
	c.w.ev().CapacityAvailable(c.peer)
}

func (c *conn) pace() bool {
	return sleep(c.w.cfg.ConnectionInterval, c.done, nil)
}

func (c *conn) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *conn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(frame)
	return err
}

// send writes a control PDU immediately.
func (c *conn) send(pdu att.PDU) error {
	payload, err := att.Encode(pdu)
	if err != nil {
		return err
	}
	logger.Trace(c.prefix, "📤 %s", att.OpcodeName(pdu.Opcode()))
	return c.writeFrame(l2cap.NewATTPacket(payload).Encode())
}

// request sends a request and waits for its response or failure.
func (c *conn) request(req att.PDU) (att.PDU, error) {
	respC, err := c.tracker.Start(req.Opcode())
	if err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		c.tracker.Fail(fmt.Errorf("%w: %v", ErrLinkLost, err))
	}
	r := <-respC
	return r.PDU, r.Err
}

// unsubscribe writes the remote CCCD back to zero. Best effort.
func (c *conn) unsubscribe() {
	c.mu.Lock()
	h, subscribed := c.remote.cccd, c.remote.subscribed
	c.remote.subscribed = false
	c.mu.Unlock()
	if c.role != RoleCentral || !subscribed || c.isClosed() {
		return
	}

	c.nc.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	if err := c.send(&att.WriteRequest{Handle: h, Value: gatt.EncodeCCCD(false, false)}); err != nil {
		logger.Debug(c.prefix, "unsubscribe write failed: %v", err)
	}
	c.w.journal.Subscribed(c.role, c.peer, h, false)
}
