package gatt

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Well-known attribute types (16-bit, little-endian).
var (
	UUIDPrimaryService             = UUID16(0x2800)
	UUIDCharacteristic             = UUID16(0x2803)
	UUIDClientCharacteristicConfig = UUID16(0x2902)

	UUIDGenericAccess = UUID16(0x1800)
	UUIDDeviceName    = UUID16(0x2A00)
)

// UUID16 encodes a 16-bit UUID in little-endian wire order.
func UUID16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// FromUUID converts a 128-bit UUID to little-endian wire order.
func FromUUID(u uuid.UUID) []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = u[15-i]
	}
	return b
}

// ToUUID converts a 16-byte little-endian wire UUID back to a uuid.UUID.
func ToUUID(b []byte) (uuid.UUID, error) {
	var u uuid.UUID
	if len(b) != 16 {
		return u, fmt.Errorf("gatt: %d-byte UUID is not 128-bit", len(b))
	}
	for i := range u {
		u[i] = b[15-i]
	}
	return u, nil
}

// SameUUID compares two wire-order UUIDs.
func SameUUID(a, b []byte) bool {
	return bytes.Equal(a, b)
}
