package att

import (
	"errors"
	"fmt"
)

// ATT error codes (Bluetooth Core v5.3 Vol 3 Part F 3.4.1.1).
const (
	ErrInvalidHandle               = 0x01
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrRequestNotSupported         = 0x06
	ErrAttributeNotFound           = 0x0A
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E
	ErrUnsupportedGroupType        = 0x10
)

var errorNames = map[uint8]string{
	ErrInvalidHandle:               "invalid handle",
	ErrWriteNotPermitted:           "write not permitted",
	ErrInvalidPDU:                  "invalid PDU",
	ErrRequestNotSupported:         "request not supported",
	ErrAttributeNotFound:           "attribute not found",
	ErrInvalidAttributeValueLength: "invalid attribute value length",
	ErrUnlikelyError:               "unlikely error",
	ErrUnsupportedGroupType:        "unsupported group type",
}

// Error is an Error Response received from (or sent to) the peer.
type Error struct {
	Code          uint8
	RequestOpcode uint8
	Handle        uint16
}

func (e *Error) Error() string {
	name, ok := errorNames[e.Code]
	if !ok {
		name = fmt.Sprintf("error 0x%02X", e.Code)
	}
	return fmt.Sprintf("att: %s (handle 0x%04X, %s)", name, e.Handle, OpcodeName(e.RequestOpcode))
}

// Code returns the ATT error code carried by err, or 0.
func Code(err error) uint8 {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return 0
}
