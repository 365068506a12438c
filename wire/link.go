package wire

import (
	"code.hybscloud.com/iox"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/wire/att"
	"github.com/user/bluexfer/wire/l2cap"
)

// dataLink is the link.Link of one connection. A central writes without
// response to the peer's receive characteristic; a peripheral notifies on
// its own send characteristic.
type dataLink struct {
	c *conn
}

var _ link.Link = (*dataLink)(nil)

func (c *conn) dataLink() *dataLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = &dataLink{c: c}
	}
	return c.data
}

// MaxChunkSize is the negotiated MTU minus the ATT header, or 0 once the
// connection is gone.
func (l *dataLink) MaxChunkSize() int {
	if l.c.isClosed() {
		return 0
	}
	return l.c.MTU() - att.HeaderLen
}

// TrySend queues chunk as one frame. false means the queue is full; a
// CapacityAvailable follows once the radio has drained a frame.
func (l *dataLink) TrySend(chunk []byte) bool {
	c := l.c
	if c.isClosed() {
		return false
	}

	var pdu att.PDU
	if c.role == RoleCentral {
		c.mu.Lock()
		h := c.remote.rx
		c.mu.Unlock()
		pdu = &att.WriteCommand{Handle: h, Value: chunk}
	} else {
		if !c.subs.Notifying(c.w.table.TxCCCD) {
			return false
		}
		pdu = &att.HandleValueNotification{Handle: c.w.table.TxValue, Value: chunk}
	}

	payload, err := att.Encode(pdu)
	if err != nil {
		logger.Error(c.prefix, "❌ encode %s: %v", att.OpcodeName(pdu.Opcode()), err)
		return false
	}
	frame := l2cap.NewATTPacket(payload).Encode()

	if err := c.txq.Enqueue(&frame); err != nil {
		if iox.IsWouldBlock(err) {
			c.refused.Add(1)
			c.wake()
		}
		return false
	}
	c.wake()
	return true
}
