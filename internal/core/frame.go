package core

import "fmt"

// Opcode is a WebSocket frame opcode as reported by a transport.
// Values outside the known set are kept as-is so newer transports can pass them through.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%X)", byte(o))
	}
}

// RawFrame is one frame exactly as a transport hands it over.
// The frame body is Payload[Offset : Offset+Length].
type RawFrame struct {
	Opcode  Opcode
	Payload []byte
	Offset  int
	Length  int
}

// NewRawFrame builds a RawFrame whose body is the whole of p.
func NewRawFrame(op Opcode, p []byte) RawFrame {
	return RawFrame{Opcode: op, Payload: p, Length: len(p)}
}

// Body returns the frame body without copying.
// ok is false when Offset/Length do not fit inside Payload.
func (f RawFrame) Body() (b []byte, ok bool) {
	if f.Offset < 0 || f.Length < 0 || f.Offset > len(f.Payload) || f.Length > len(f.Payload)-f.Offset {
		return nil, false
	}
	return f.Payload[f.Offset : f.Offset+f.Length], true
}

// FrameKind is the semantic kind of a classified frame.
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameText
	FrameBinary
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClose:
		return "close"
	default:
		return "unrecognized"
	}
}

// CloseNoStatus is reported for close frames that carry no status code.
const CloseNoStatus = 1005

// Frame is the tagged result of classification. Only the fields matching Kind are set.
// Data aliases the transport buffer and is valid for the duration of the dispatch call.
type Frame struct {
	Kind      FrameKind
	Text      string
	Data      []byte
	CloseCode int
	Opcode    Opcode
}
