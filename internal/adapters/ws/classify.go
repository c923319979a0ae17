package ws

import (
	"encoding/binary"

	"github.com/dkeye/wsbridge/internal/core"
)

// Classify maps a transport frame to its semantic kind.
// Unknown opcodes and malformed payload ranges yield FrameUnrecognized; it never fails.
func Classify(raw core.RawFrame) core.Frame {
	body, ok := raw.Body()
	if !ok {
		return core.Frame{Kind: core.FrameUnrecognized, Opcode: raw.Opcode}
	}

	switch raw.Opcode {
	case core.OpText:
		return core.Frame{Kind: core.FrameText, Text: string(body), Opcode: raw.Opcode}
	case core.OpBinary:
		return core.Frame{Kind: core.FrameBinary, Data: body, Opcode: raw.Opcode}
	case core.OpClose:
		code := core.CloseNoStatus
		if len(body) >= 2 {
			code = int(binary.BigEndian.Uint16(body[:2]))
		}
		return core.Frame{Kind: core.FrameClose, CloseCode: code, Opcode: raw.Opcode}
	default:
		return core.Frame{Kind: core.FrameUnrecognized, Opcode: raw.Opcode}
	}
}
