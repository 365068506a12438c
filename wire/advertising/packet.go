package advertising

import (
	"errors"
	"fmt"
)

// Link layer advertising PDU types.
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected advertising
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected advertising
	PDUTypeScanRsp       = 0x04 // Scan response
)

// AD types used by the transfer service advertisement.
const (
	ADTypeFlags                      = 0x01
	ADTypeComplete128BitServiceUUIDs = 0x07
	ADTypeShortenedLocalName         = 0x08
	ADTypeCompleteLocalName          = 0x09
	ADTypeTxPowerLevel               = 0x0A
	ADTypeLERole                     = 0x1C
)

// Flags.
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// LE Role values.
const (
	RolePeripheralOnly      = 0x00
	RoleCentralOnly         = 0x01
	RoleBothPeripheralFirst = 0x02
	RoleBothCentralFirst    = 0x03
)

const (
	MaxAdvertisingDataLen = 31
	AddressLen            = 6
)

// PDU is one advertising channel packet:
// [PDU Type: 1] [Length: 1] [AdvA: 6] [AdvData: 0-31]
type PDU struct {
	Type    byte
	AdvA    [AddressLen]byte
	AdvData []byte
}

// ADStructure is one Length-Type-Value element of AdvData.
type ADStructure struct {
	Type byte
	Data []byte
}

// Encode serializes the PDU.
func (p *PDU) Encode() ([]byte, error) {
	if len(p.AdvData) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("advertising: data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(p.AdvData))
	}

	buf := make([]byte, 2+AddressLen+len(p.AdvData))
	buf[0] = p.Type
	buf[1] = byte(AddressLen + len(p.AdvData))
	copy(buf[2:8], p.AdvA[:])
	copy(buf[8:], p.AdvData)
	return buf, nil
}

// DecodePDU parses one PDU from the start of data and returns the bytes
// consumed.
func DecodePDU(data []byte) (*PDU, int, error) {
	if len(data) < 2+AddressLen {
		return nil, 0, errors.New("advertising: PDU too short")
	}

	payloadLen := int(data[1])
	if payloadLen < AddressLen {
		return nil, 0, fmt.Errorf("advertising: invalid payload length %d", payloadLen)
	}
	if payloadLen-AddressLen > MaxAdvertisingDataLen {
		return nil, 0, fmt.Errorf("advertising: data exceeds %d bytes: %d", MaxAdvertisingDataLen, payloadLen-AddressLen)
	}
	total := 2 + payloadLen
	if len(data) < total {
		return nil, 0, fmt.Errorf("advertising: PDU truncated, want %d bytes, got %d", total, len(data))
	}

	p := &PDU{Type: data[0]}
	copy(p.AdvA[:], data[2:8])
	p.AdvData = append([]byte{}, data[8:total]...)
	return p, total, nil
}

// EncodeADStructures concatenates AD structures into AdvData.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		buf = append(buf, byte(1+len(s.Data)), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("advertising: data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(buf))
	}
	return buf, nil
}

// DecodeADStructures splits AdvData. A zero length byte ends the data.
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var out []ADStructure
	for off := 0; off < len(data); {
		length := int(data[off])
		if length == 0 {
			break
		}
		off++
		if off+length > len(data) {
			return nil, fmt.Errorf("advertising: AD structure length %d exceeds remaining %d bytes", length, len(data)-off)
		}
		out = append(out, ADStructure{
			Type: data[off],
			Data: append([]byte{}, data[off+1:off+length]...),
		})
		off += length
	}
	return out, nil
}

// Find returns the data of the first structure of type t.
func Find(structures []ADStructure, t byte) ([]byte, bool) {
	for _, s := range structures {
		if s.Type == t {
			return s.Data, true
		}
	}
	return nil, false
}

// PDUTypeName returns a human-readable name for a PDU type.
func PDUTypeName(t byte) string {
	switch t {
	case PDUTypeAdvInd:
		return "ADV_IND"
	case PDUTypeAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case PDUTypeScanRsp:
		return "SCAN_RSP"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", t)
	}
}
