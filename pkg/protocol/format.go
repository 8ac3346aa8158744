package protocol

import (
	"fmt"
	"strings"
)

// maxFormatBytes limits how much of a payload FormatFrame prints.
const maxFormatBytes = 8

// String returns a short name for a key.
func (k Key) String() string {
	switch k {
	case KeyRequestVersion:
		return "RequestVersion"
	case KeySetText:
		return "SetText"
	case KeyKeyPressed:
		return "KeyPressed"
	case KeyReturnVersion:
		return "ReturnVersion"
	case KeyRequestText:
		return "RequestText"
	default:
		return fmt.Sprintf("Key%02X", uint32(k))
	}
}

// KindName returns a short name for a frame kind.
func KindName(kind uint8) string {
	switch kind {
	case FramePush:
		return "Push"
	case FrameAck:
		return "Ack"
	case FrameNack:
		return "Nack"
	default:
		return fmt.Sprintf("Kind%02X", kind)
	}
}

// FormatFrame renders a frame as a compact hex string for debug logs.
// Format: AA KIND TXID LEN_LO LEN_HI [PAYLOAD..]
func FormatFrame(frame *Frame) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%02X %02X %02X ", SyncByte, frame.Kind, frame.TxID)
	fmt.Fprintf(&b, "%02X%02X", uint8(len(frame.Payload)), uint8(len(frame.Payload)>>8))

	if len(frame.Payload) > 0 {
		b.WriteString(" ")
	}
	for i := 0; i < len(frame.Payload) && i < maxFormatBytes; i++ {
		fmt.Fprintf(&b, "%02X", frame.Payload[i])
	}
	if len(frame.Payload) > maxFormatBytes {
		b.WriteString("..")
	}

	return b.String()
}
