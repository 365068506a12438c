package wire

import (
	"fmt"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/wire/att"
	"github.com/user/bluexfer/wire/gatt"
)

// DiscoverServices looks for the transfer service on a connected peer.
func (w *Wire) DiscoverServices(id link.Identity) error {
	return w.procedure(id, "service discovery", (*conn).discoverServices,
		func(ev link.Events, err error) {
			if err != nil {
				ev.ServiceDiscoveryFailed(id, err)
				return
			}
			ev.ServicesFound(id)
		})
}

// DiscoverCharacteristics resolves the receive and send characteristics
// inside the discovered service.
func (w *Wire) DiscoverCharacteristics(id link.Identity) error {
	return w.procedure(id, "characteristic discovery", (*conn).discoverCharacteristics,
		func(ev link.Events, err error) {
			if err != nil {
				ev.CharacteristicDiscoveryFailed(id, err)
				return
			}
			ev.CharacteristicsFound(id)
		})
}

// Subscribe enables notifications on the send characteristic. On success
// the peer's link is handed over with SubscriptionConfirmed.
func (w *Wire) Subscribe(id link.Identity) error {
	var c *conn
	gate := make(chan struct{})
	return w.procedure(id, "subscribe", func(cc *conn) error {
		c = cc
		cc.mu.Lock()
		cc.gate = gate
		cc.mu.Unlock()
		return cc.subscribe()
	}, func(ev link.Events, err error) {
		defer close(gate)
		if err != nil {
			w.lose(c, err, reportDisconnected)
			return
		}
		ev.SubscriptionConfirmed(id, c.dataLink())
	})
}

// procedure runs a client procedure on its own goroutine and reports the
// outcome unless the connection went away meanwhile.
func (w *Wire) procedure(id link.Identity, name string, run func(*conn) error, report func(link.Events, error)) error {
	c := w.lookup(id)
	if c == nil {
		return ErrNotConnected
	}
	if c.role != RoleCentral {
		return ErrWrongRole
	}
	ok := w.spawn(func() {
		err := run(c)
		if c.isClosed() {
			return
		}
		if err != nil {
			logger.Warn(c.prefix, "❌ %s failed: %v", name, err)
		} else {
			logger.Debug(c.prefix, "✅ %s done", name)
		}
		report(w.ev(), err)
	})
	if !ok {
		return ErrStopped
	}
	return nil
}

func (c *conn) exchangeMTU() error {
	resp, err := c.request(&att.ExchangeMTURequest{ClientRxMTU: uint16(c.w.cfg.MTU)})
	if att.Code(err) == att.ErrRequestNotSupported {
		c.setMTU(c.MTU())
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: mtu exchange: %v", ErrConnectionFailed, err)
	}
	server := int(resp.(*att.ExchangeMTUResponse).ServerRxMTU)
	c.setMTU(min(c.w.cfg.MTU, server))
	return nil
}

func (c *conn) discoverServices() error {
	want := gatt.FromUUID(c.w.cfg.Service)
	start := uint16(1)
	for {
		resp, err := c.request(&att.ReadByGroupTypeRequest{
			StartHandle: start,
			EndHandle:   0xFFFF,
			Type:        gatt.UUIDPrimaryService,
		})
		if att.Code(err) == att.ErrAttributeNotFound {
			break
		}
		if err != nil {
			return err
		}
		r := resp.(*att.ReadByGroupTypeResponse)
		services, err := gatt.ParseGroupRecords(r.Length, r.AttributeData)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			break
		}
		for _, s := range services {
			if gatt.SameUUID(s.UUID, want) {
				c.mu.Lock()
				c.remote = remoteHandles{serviceStart: s.StartHandle, serviceEnd: s.EndHandle}
				c.mu.Unlock()
				return nil
			}
		}
		last := services[len(services)-1].EndHandle
		if last == 0xFFFF || last < start {
			break
		}
		start = last + 1
	}
	return ErrServiceNotFound
}

func (c *conn) discoverCharacteristics() error {
	c.mu.Lock()
	start, end := c.remote.serviceStart, c.remote.serviceEnd
	c.mu.Unlock()
	if start == 0 {
		return ErrServiceNotFound
	}

	var chars []gatt.DiscoveredCharacteristic
	for from := start; from <= end; {
		resp, err := c.request(&att.ReadByTypeRequest{
			StartHandle: from,
			EndHandle:   end,
			Type:        gatt.UUIDCharacteristic,
		})
		if att.Code(err) == att.ErrAttributeNotFound {
			break
		}
		if err != nil {
			return err
		}
		r := resp.(*att.ReadByTypeResponse)
		recs, err := gatt.ParseTypeRecords(r.Length, r.AttributeData)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			dc, err := gatt.ParseDeclaration(rec)
			if err != nil {
				return err
			}
			chars = append(chars, dc)
		}
		last := recs[len(recs)-1].Handle
		if last >= end {
			break
		}
		from = last + 1
	}

	rxUUID := gatt.FromUUID(c.w.cfg.RxCharacteristic)
	txUUID := gatt.FromUUID(c.w.cfg.TxCharacteristic)
	var rx, tx *gatt.DiscoveredCharacteristic
	for i := range chars {
		switch {
		case gatt.SameUUID(chars[i].UUID, rxUUID):
			rx = &chars[i]
		case gatt.SameUUID(chars[i].UUID, txUUID):
			tx = &chars[i]
		}
	}
	if rx == nil || rx.Properties&gatt.PropWriteWithoutResponse == 0 {
		return fmt.Errorf("%w: receive characteristic %s", ErrCharacteristicNotFound, c.w.cfg.RxCharacteristic)
	}
	if tx == nil || tx.Properties&gatt.PropNotify == 0 {
		return fmt.Errorf("%w: send characteristic %s", ErrCharacteristicNotFound, c.w.cfg.TxCharacteristic)
	}

	resp, err := c.request(&att.ReadByTypeRequest{
		StartHandle: tx.ValueHandle + 1,
		EndHandle:   end,
		Type:        gatt.UUIDClientCharacteristicConfig,
	})
	if err != nil {
		return fmt.Errorf("%w: no CCCD on send characteristic: %v", ErrCharacteristicNotFound, err)
	}
	r := resp.(*att.ReadByTypeResponse)
	recs, err := gatt.ParseTypeRecords(r.Length, r.AttributeData)
	if err != nil || len(recs) == 0 {
		return fmt.Errorf("%w: no CCCD on send characteristic", ErrCharacteristicNotFound)
	}

	c.mu.Lock()
	c.remote.rx = rx.ValueHandle
	c.remote.tx = tx.ValueHandle
	c.remote.cccd = recs[0].Handle
	c.mu.Unlock()
	logger.Debug(c.prefix, "rx=0x%04X tx=0x%04X cccd=0x%04X", rx.ValueHandle, tx.ValueHandle, recs[0].Handle)
	return nil
}

func (c *conn) subscribe() error {
	c.mu.Lock()
	h := c.remote.cccd
	c.mu.Unlock()
	if h == 0 {
		return ErrCharacteristicNotFound
	}

	if _, err := c.request(&att.WriteRequest{Handle: h, Value: gatt.EncodeCCCD(true, false)}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.mu.Lock()
	c.remote.subscribed = true
	c.mu.Unlock()
	c.w.journal.Subscribed(c.role, c.peer, h, true)
	return nil
}

// onNotification delivers data the peripheral pushed on the send
// characteristic.
func (c *conn) onNotification(n *att.HandleValueNotification) {
	c.mu.Lock()
	tx, subscribed := c.remote.tx, c.remote.subscribed
	c.mu.Unlock()
	if c.role != RoleCentral || !subscribed || n.Handle != tx {
		logger.Debug(c.prefix, "dropping notification on 0x%04X", n.Handle)
		return
	}
	c.w.ev().BytesReceived(c.peer, n.Value)
}
