package gatt

import (
	"encoding/binary"
	"fmt"
)

// DiscoveredService is one record of a Read By Group Type Response.
type DiscoveredService struct {
	UUID        []byte
	StartHandle uint16
	EndHandle   uint16
}

// DiscoveredCharacteristic is a parsed characteristic declaration.
type DiscoveredCharacteristic struct {
	UUID              []byte
	Properties        uint8
	DeclarationHandle uint16
	ValueHandle       uint16
}

// HandleValue is one record of a Read By Type Response.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// BuildGroupRecords encodes as many services as fit in one response PDU of
// the given MTU. All records in a response share one length, so the run stops
// at the first service whose UUID size differs from the first one.
func BuildGroupRecords(services []DiscoveredService, mtu int) (uint8, []byte, int) {
	if len(services) == 0 {
		return 0, nil, 0
	}
	size := 4 + len(services[0].UUID)
	room := mtu - 2 // opcode + length byte

	var buf []byte
	n := 0
	for _, s := range services {
		if 4+len(s.UUID) != size || len(buf)+size > room {
			break
		}
		buf = binary.LittleEndian.AppendUint16(buf, s.StartHandle)
		buf = binary.LittleEndian.AppendUint16(buf, s.EndHandle)
		buf = append(buf, s.UUID...)
		n++
	}
	return uint8(size), buf, n
}

// ParseGroupRecords decodes a Read By Group Type Response body.
func ParseGroupRecords(length uint8, data []byte) ([]DiscoveredService, error) {
	size := int(length)
	if size != 6 && size != 20 {
		return nil, fmt.Errorf("gatt: invalid service record length %d", size)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("gatt: incomplete service data, %d trailing bytes", len(data)%size)
	}

	var out []DiscoveredService
	for ; len(data) > 0; data = data[size:] {
		out = append(out, DiscoveredService{
			StartHandle: binary.LittleEndian.Uint16(data[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(data[2:4]),
			UUID:        append([]byte{}, data[4:size]...),
		})
	}
	return out, nil
}

// BuildTypeRecords encodes as many (handle, value) pairs as fit in one
// response of the given MTU, stopping at the first value length change.
func BuildTypeRecords(attrs []Attribute, mtu int) (uint8, []byte, int) {
	if len(attrs) == 0 {
		return 0, nil, 0
	}
	size := 2 + len(attrs[0].Value)
	if size > 255 {
		return 0, nil, 0
	}
	room := mtu - 2

	var buf []byte
	n := 0
	for _, a := range attrs {
		if 2+len(a.Value) != size || len(buf)+size > room {
			break
		}
		buf = binary.LittleEndian.AppendUint16(buf, a.Handle)
		buf = append(buf, a.Value...)
		n++
	}
	return uint8(size), buf, n
}

// ParseTypeRecords decodes a Read By Type Response body.
func ParseTypeRecords(length uint8, data []byte) ([]HandleValue, error) {
	size := int(length)
	if size < 2 {
		return nil, fmt.Errorf("gatt: invalid attribute record length %d", size)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("gatt: incomplete attribute data, %d trailing bytes", len(data)%size)
	}

	var out []HandleValue
	for ; len(data) > 0; data = data[size:] {
		out = append(out, HandleValue{
			Handle: binary.LittleEndian.Uint16(data[0:2]),
			Value:  append([]byte{}, data[2:size]...),
		})
	}
	return out, nil
}

// ParseDeclaration interprets a characteristic declaration record.
func ParseDeclaration(hv HandleValue) (DiscoveredCharacteristic, error) {
	if n := len(hv.Value); n != 5 && n != 19 {
		return DiscoveredCharacteristic{}, fmt.Errorf("gatt: invalid declaration length %d at 0x%04X", n, hv.Handle)
	}
	return DiscoveredCharacteristic{
		Properties:        hv.Value[0],
		ValueHandle:       binary.LittleEndian.Uint16(hv.Value[1:3]),
		UUID:              append([]byte{}, hv.Value[3:]...),
		DeclarationHandle: hv.Handle,
	}, nil
}
