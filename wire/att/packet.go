package att

import (
	"encoding/binary"
	"fmt"
)

// PDU is one decoded ATT protocol data unit.
type PDU interface {
	Opcode() uint8
}

type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	ErrorCode     uint8
}

type ExchangeMTURequest struct {
	ClientRxMTU uint16
}

type ExchangeMTUResponse struct {
	ServerRxMTU uint16
}

// ReadByTypeRequest reads every attribute of Type in [StartHandle, EndHandle].
// Used for characteristic declarations and for locating the CCCD.
type ReadByTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// ReadByTypeResponse carries Length-sized (handle, value) records.
type ReadByTypeResponse struct {
	Length        uint8
	AttributeData []byte
}

// ReadByGroupTypeRequest is primary service discovery.
type ReadByGroupTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// ReadByGroupTypeResponse carries Length-sized (start, end, uuid) records.
type ReadByGroupTypeResponse struct {
	Length        uint8
	AttributeData []byte
}

type WriteRequest struct {
	Handle uint16
	Value  []byte
}

type WriteResponse struct{}

type WriteCommand struct {
	Handle uint16
	Value  []byte
}

type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

func (*ErrorResponse) Opcode() uint8           { return OpErrorResponse }
func (*ExchangeMTURequest) Opcode() uint8      { return OpExchangeMTURequest }
func (*ExchangeMTUResponse) Opcode() uint8     { return OpExchangeMTUResponse }
func (*ReadByTypeRequest) Opcode() uint8       { return OpReadByTypeRequest }
func (*ReadByTypeResponse) Opcode() uint8      { return OpReadByTypeResponse }
func (*ReadByGroupTypeRequest) Opcode() uint8  { return OpReadByGroupTypeRequest }
func (*ReadByGroupTypeResponse) Opcode() uint8 { return OpReadByGroupTypeResponse }
func (*WriteRequest) Opcode() uint8            { return OpWriteRequest }
func (*WriteResponse) Opcode() uint8           { return OpWriteResponse }
func (*WriteCommand) Opcode() uint8            { return OpWriteCommand }
func (*HandleValueNotification) Opcode() uint8 { return OpHandleValueNotification }

// Err converts an Error Response into an *Error.
func (r *ErrorResponse) Err() error {
	return &Error{Code: r.ErrorCode, RequestOpcode: r.RequestOpcode, Handle: r.Handle}
}

// Encode serializes a PDU.
func Encode(pdu PDU) ([]byte, error) {
	switch p := pdu.(type) {
	case *ErrorResponse:
		buf := make([]byte, 5)
		buf[0] = OpErrorResponse
		buf[1] = p.RequestOpcode
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		buf[4] = p.ErrorCode
		return buf, nil

	case *ExchangeMTURequest:
		return encodeU16(OpExchangeMTURequest, p.ClientRxMTU), nil

	case *ExchangeMTUResponse:
		return encodeU16(OpExchangeMTUResponse, p.ServerRxMTU), nil

	case *ReadByTypeRequest:
		return encodeRange(OpReadByTypeRequest, p.StartHandle, p.EndHandle, p.Type), nil

	case *ReadByTypeResponse:
		return append([]byte{OpReadByTypeResponse, p.Length}, p.AttributeData...), nil

	case *ReadByGroupTypeRequest:
		return encodeRange(OpReadByGroupTypeRequest, p.StartHandle, p.EndHandle, p.Type), nil

	case *ReadByGroupTypeResponse:
		return append([]byte{OpReadByGroupTypeResponse, p.Length}, p.AttributeData...), nil

	case *WriteRequest:
		return encodeValue(OpWriteRequest, p.Handle, p.Value), nil

	case *WriteResponse:
		return []byte{OpWriteResponse}, nil

	case *WriteCommand:
		return encodeValue(OpWriteCommand, p.Handle, p.Value), nil

	case *HandleValueNotification:
		return encodeValue(OpHandleValueNotification, p.Handle, p.Value), nil

	default:
		return nil, fmt.Errorf("att: unknown packet type %T", pdu)
	}
}

func encodeU16(op uint8, v uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = op
	binary.LittleEndian.PutUint16(buf[1:3], v)
	return buf
}

func encodeRange(op uint8, start, end uint16, typ []byte) []byte {
	buf := make([]byte, 5+len(typ))
	buf[0] = op
	binary.LittleEndian.PutUint16(buf[1:3], start)
	binary.LittleEndian.PutUint16(buf[3:5], end)
	copy(buf[5:], typ)
	return buf
}

func encodeValue(op uint8, handle uint16, value []byte) []byte {
	buf := make([]byte, HeaderLen+len(value))
	buf[0] = op
	binary.LittleEndian.PutUint16(buf[1:3], handle)
	copy(buf[3:], value)
	return buf
}

// Decode parses one PDU. Value slices are copies.
func Decode(data []byte) (PDU, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("att: empty packet")
	}

	short := func(name string) error {
		return fmt.Errorf("att: %s too short (%d bytes)", name, len(data))
	}

	switch data[0] {
	case OpErrorResponse:
		if len(data) < 5 {
			return nil, short("ErrorResponse")
		}
		return &ErrorResponse{
			RequestOpcode: data[1],
			Handle:        binary.LittleEndian.Uint16(data[2:4]),
			ErrorCode:     data[4],
		}, nil

	case OpExchangeMTURequest:
		if len(data) < 3 {
			return nil, short("ExchangeMTURequest")
		}
		return &ExchangeMTURequest{ClientRxMTU: binary.LittleEndian.Uint16(data[1:3])}, nil

	case OpExchangeMTUResponse:
		if len(data) < 3 {
			return nil, short("ExchangeMTUResponse")
		}
		return &ExchangeMTUResponse{ServerRxMTU: binary.LittleEndian.Uint16(data[1:3])}, nil

	case OpReadByTypeRequest:
		if len(data) < 7 {
			return nil, short("ReadByTypeRequest")
		}
		return &ReadByTypeRequest{
			StartHandle: binary.LittleEndian.Uint16(data[1:3]),
			EndHandle:   binary.LittleEndian.Uint16(data[3:5]),
			Type:        append([]byte{}, data[5:]...),
		}, nil

	case OpReadByTypeResponse:
		if len(data) < 2 {
			return nil, short("ReadByTypeResponse")
		}
		return &ReadByTypeResponse{Length: data[1], AttributeData: append([]byte{}, data[2:]...)}, nil

	case OpReadByGroupTypeRequest:
		if len(data) < 7 {
			return nil, short("ReadByGroupTypeRequest")
		}
		return &ReadByGroupTypeRequest{
			StartHandle: binary.LittleEndian.Uint16(data[1:3]),
			EndHandle:   binary.LittleEndian.Uint16(data[3:5]),
			Type:        append([]byte{}, data[5:]...),
		}, nil

	case OpReadByGroupTypeResponse:
		if len(data) < 2 {
			return nil, short("ReadByGroupTypeResponse")
		}
		return &ReadByGroupTypeResponse{Length: data[1], AttributeData: append([]byte{}, data[2:]...)}, nil

	case OpWriteRequest:
		if len(data) < 3 {
			return nil, short("WriteRequest")
		}
		return &WriteRequest{
			Handle: binary.LittleEndian.Uint16(data[1:3]),
			Value:  append([]byte{}, data[3:]...),
		}, nil

	case OpWriteResponse:
		return &WriteResponse{}, nil

	case OpWriteCommand:
		if len(data) < 3 {
			return nil, short("WriteCommand")
		}
		return &WriteCommand{
			Handle: binary.LittleEndian.Uint16(data[1:3]),
			Value:  append([]byte{}, data[3:]...),
		}, nil

	case OpHandleValueNotification:
		if len(data) < 3 {
			return nil, short("HandleValueNotification")
		}
		return &HandleValueNotification{
			Handle: binary.LittleEndian.Uint16(data[1:3]),
			Value:  append([]byte{}, data[3:]...),
		}, nil

	default:
		return nil, fmt.Errorf("att: unknown opcode 0x%02X", data[0])
	}
}
