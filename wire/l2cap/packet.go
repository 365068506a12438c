package l2cap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// L2CAP fixed channel IDs carried by the simulated link.
const (
	ChannelATT      uint16 = 0x0004 // Attribute Protocol
	ChannelLESignal uint16 = 0x0005 // LE signaling
)

// ATT MTU bounds.
const (
	DefaultMTU = 23
	MinMTU     = 23
	MaxMTU     = 517
	HeaderLen  = 4 // length (2) + channel ID (2)
)

// ClampMTU bounds a proposed ATT MTU to [MinMTU, MaxMTU].
func ClampMTU(mtu int) int {
	if mtu < MinMTU {
		return MinMTU
	}
	if mtu > MaxMTU {
		return MaxMTU
	}
	return mtu
}

// Packet is one basic L2CAP frame:
// [Length: 2 bytes LE] [Channel ID: 2 bytes LE] [Payload: Length bytes]
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// NewATTPacket wraps an encoded ATT PDU.
func NewATTPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelATT, Payload: payload}
}

// Encode serializes the frame.
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[4:], p.Payload)
	return buf
}

// Decode parses one frame from the start of data.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}

	length := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < HeaderLen+length {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}

	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   append([]byte{}, data[HeaderLen:HeaderLen+length]...),
	}, nil
}

// ReadPacket reads exactly one frame from a stream.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	p := &Packet{
		ChannelID: binary.LittleEndian.Uint16(hdr[2:4]),
		Payload:   make([]byte, binary.LittleEndian.Uint16(hdr[0:2])),
	}
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		return nil, fmt.Errorf("l2cap: truncated payload: %w", err)
	}
	return p, nil
}
