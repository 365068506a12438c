package wire

import (
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/wire/att"
	"github.com/user/bluexfer/wire/gatt"
)

// serve answers a request from the central. after, when set, runs once the
// response is on the wire.
func (c *conn) serve(req att.PDU) {
	var (
		resp  att.PDU
		after func()
	)
	if c.role != RolePeripheral {
		resp = errorResponse(req.Opcode(), 0, att.ErrRequestNotSupported)
	} else {
		resp, after = c.respond(req)
	}
	if err := c.send(resp); err != nil {
		logger.Debug(c.prefix, "response to %s failed: %v", att.OpcodeName(req.Opcode()), err)
		return
	}
	if after != nil {
		after()
	}
}

func (c *conn) respond(req att.PDU) (att.PDU, func()) {
	db := c.w.table.DB
	switch r := req.(type) {
	case *att.ExchangeMTURequest:
		c.setMTU(min(int(r.ClientRxMTU), c.w.cfg.MTU))
		return &att.ExchangeMTUResponse{ServerRxMTU: uint16(c.w.cfg.MTU)}, nil

	case *att.ReadByGroupTypeRequest:
		if r.StartHandle == 0 || r.StartHandle > r.EndHandle {
			return errorResponse(r.Opcode(), r.StartHandle, att.ErrInvalidHandle), nil
		}
		if !gatt.SameUUID(r.Type, gatt.UUIDPrimaryService) {
			return errorResponse(r.Opcode(), r.StartHandle, att.ErrUnsupportedGroupType), nil
		}
		length, data, n := gatt.BuildGroupRecords(db.Groups(r.StartHandle, r.EndHandle), c.MTU())
		if n == 0 {
			return errorResponse(r.Opcode(), r.StartHandle, att.ErrAttributeNotFound), nil
		}
		return &att.ReadByGroupTypeResponse{Length: length, AttributeData: data}, nil

	case *att.ReadByTypeRequest:
		if r.StartHandle == 0 || r.StartHandle > r.EndHandle {
			return errorResponse(r.Opcode(), r.StartHandle, att.ErrInvalidHandle), nil
		}
		length, data, n := gatt.BuildTypeRecords(db.ByType(r.StartHandle, r.EndHandle, r.Type), c.MTU())
		if n == 0 {
			return errorResponse(r.Opcode(), r.StartHandle, att.ErrAttributeNotFound), nil
		}
		return &att.ReadByTypeResponse{Length: length, AttributeData: data}, nil

	case *att.WriteRequest:
		return c.write(r)
	}
	return errorResponse(req.Opcode(), 0, att.ErrRequestNotSupported), nil
}

func (c *conn) write(r *att.WriteRequest) (att.PDU, func()) {
	tbl := c.w.table
	switch r.Handle {
	case tbl.TxCCCD:
		enabled, changed, err := c.subs.Set(r.Handle, r.Value)
		if err != nil {
			return errorResponse(r.Opcode(), r.Handle, att.ErrInvalidAttributeValueLength), nil
		}
		if !changed {
			return &att.WriteResponse{}, nil
		}
		c.w.journal.Subscribed(c.role, c.peer, r.Handle, enabled)
		if enabled {
			return &att.WriteResponse{}, func() {
				logger.Info(c.prefix, "🔔 central subscribed")
				c.w.ev().SubscriptionConfirmed(c.peer, c.dataLink())
			}
		}
		return &att.WriteResponse{}, func() {
			logger.Info(c.prefix, "🔕 central unsubscribed")
			c.w.lose(c, ErrUnsubscribed, reportDisconnected)
		}

	case tbl.RxValue:
		value := r.Value
		return &att.WriteResponse{}, func() { c.w.ev().BytesReceived(c.peer, value) }
	}

	if _, ok := tbl.DB.Attribute(r.Handle); !ok {
		return errorResponse(r.Opcode(), r.Handle, att.ErrInvalidHandle), nil
	}
	return errorResponse(r.Opcode(), r.Handle, att.ErrWriteNotPermitted), nil
}

// onWriteCommand delivers a chunk the central wrote without response.
func (c *conn) onWriteCommand(cmd *att.WriteCommand) {
	if c.role != RolePeripheral || cmd.Handle != c.w.table.RxValue {
		logger.Debug(c.prefix, "dropping write command on 0x%04X", cmd.Handle)
		return
	}
	c.w.ev().BytesReceived(c.peer, cmd.Value)
}

func errorResponse(op uint8, handle uint16, code uint8) *att.ErrorResponse {
	return &att.ErrorResponse{RequestOpcode: op, Handle: handle, ErrorCode: code}
}
