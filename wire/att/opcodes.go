package att

import "fmt"

// ATT opcodes used by the transfer service (Bluetooth Core v5.3 Vol 3 Part F 3.4).
const (
	OpErrorResponse = 0x01

	OpExchangeMTURequest  = 0x02
	OpExchangeMTUResponse = 0x03

	OpReadByTypeRequest  = 0x08
	OpReadByTypeResponse = 0x09

	OpReadByGroupTypeRequest  = 0x10
	OpReadByGroupTypeResponse = 0x11

	OpWriteRequest  = 0x12
	OpWriteResponse = 0x13

	// Write Command carries central → peripheral data, no response.
	OpWriteCommand = 0x52

	// Handle Value Notification carries peripheral → central data, no confirmation.
	OpHandleValueNotification = 0x1B
)

// HeaderLen is the opcode plus attribute handle that precede a written or
// notified value. The usable payload of one PDU is MTU - HeaderLen.
const HeaderLen = 3

var opcodeNames = map[uint8]string{
	OpErrorResponse:           "Error Response",
	OpExchangeMTURequest:      "Exchange MTU Request",
	OpExchangeMTUResponse:     "Exchange MTU Response",
	OpReadByTypeRequest:       "Read By Type Request",
	OpReadByTypeResponse:      "Read By Type Response",
	OpReadByGroupTypeRequest:  "Read By Group Type Request",
	OpReadByGroupTypeResponse: "Read By Group Type Response",
	OpWriteRequest:            "Write Request",
	OpWriteResponse:           "Write Response",
	OpWriteCommand:            "Write Command",
	OpHandleValueNotification: "Handle Value Notification",
}

// OpcodeName returns a human-readable opcode name for logs.
func OpcodeName(op uint8) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", op)
}

// ResponseFor returns the response opcode that completes a request, or 0 when
// the opcode does not expect one.
func ResponseFor(request uint8) uint8 {
	switch request {
	case OpExchangeMTURequest:
		return OpExchangeMTUResponse
	case OpReadByTypeRequest:
		return OpReadByTypeResponse
	case OpReadByGroupTypeRequest:
		return OpReadByGroupTypeResponse
	case OpWriteRequest:
		return OpWriteResponse
	default:
		return 0
	}
}
