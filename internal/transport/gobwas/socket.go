package gobwas

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/gobwas/ws"
)

// DefaultReadLimit applies when no read limit is configured.
const DefaultReadLimit int64 = 1 << 20

var (
	ErrFrameTooLarge   = errors.New("frame exceeds read limit")
	ErrBadContinuation = errors.New("unexpected continuation frame")
)

// connWithTimeout puts a write deadline on every write.
// Read deadlines are managed by the read loop.
type connWithTimeout struct {
	net.Conn
	wt time.Duration
}

func (c connWithTimeout) Write(p []byte) (int, error) {
	if c.wt > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.wt)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

// socket implements core.Socket directly on RFC 6455 frames.
// Fragmented messages are reassembled; control frames are answered here and
// then surfaced to the handler as they are.
type socket struct {
	id        core.ConnID
	req       *core.Request
	conn      net.Conn
	r         *bufio.Reader
	readLimit int64

	wmu sync.Mutex

	pending    core.RawFrame
	hasPending bool

	fragOp ws.OpCode
	frag   []byte

	closeSent atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSocket(req *core.Request, conn net.Conn, r *bufio.Reader, readLimit int64, writeWait time.Duration) *socket {
	if r == nil {
		r = bufio.NewReader(conn)
	}
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &socket{
		id:        req.ConnID,
		req:       req,
		conn:      connWithTimeout{Conn: conn, wt: writeWait},
		r:         r,
		readLimit: readLimit,
	}
}

func (s *socket) ID() core.ConnID        { return s.id }
func (s *socket) Request() *core.Request { return s.req }

func (s *socket) pendingClose() bool {
	return s.hasPending && s.pending.Opcode == core.OpClose
}

// next reads frames until one whole message or control frame is available.
func (s *socket) next() error {
	for {
		h, err := ws.ReadHeader(s.r)
		if err != nil {
			return err
		}
		if h.Length > s.readLimit-int64(len(s.frag)) {
			s.sendClose(ws.NewCloseFrameBody(ws.StatusMessageTooBig, ""))
			return ErrFrameTooLarge
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(s.r, payload); err != nil {
			return err
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}

		switch {
		case h.OpCode.IsControl():
			switch h.OpCode {
			case ws.OpPing:
				if err := s.write(ws.NewPongFrame(payload)); err != nil {
					return err
				}
			case ws.OpClose:
				echo := payload
				if len(echo) > 2 {
					echo = echo[:2]
				}
				s.sendClose(echo)
			}
			s.setPending(core.Opcode(h.OpCode), payload)
			return nil

		case h.OpCode == ws.OpContinuation:
			if s.fragOp == 0 {
				s.sendClose(ws.NewCloseFrameBody(ws.StatusProtocolError, ""))
				return ErrBadContinuation
			}
			s.frag = append(s.frag, payload...)
			if h.Fin {
				s.setPending(core.Opcode(s.fragOp), s.frag)
				s.fragOp, s.frag = 0, nil
				return nil
			}

		default:
			if s.fragOp != 0 {
				s.sendClose(ws.NewCloseFrameBody(ws.StatusProtocolError, ""))
				return ErrBadContinuation
			}
			if h.Fin {
				s.setPending(core.Opcode(h.OpCode), payload)
				return nil
			}
			s.fragOp, s.frag = h.OpCode, payload
		}
	}
}

// extendRead gives the peer d to send its next frame. A zero d disables the deadline.
func (s *socket) extendRead(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

func (s *socket) ping() error {
	return s.write(ws.NewPingFrame(nil))
}

func (s *socket) setPending(op core.Opcode, p []byte) {
	s.pending = core.NewRawFrame(op, p)
	s.hasPending = true
}

func (s *socket) ReadFrame() (core.RawFrame, error) {
	if !s.hasPending {
		return core.RawFrame{}, core.ErrNoPendingFrame
	}
	s.hasPending = false
	f := s.pending
	s.pending = core.RawFrame{}
	return f, nil
}

func (s *socket) WriteFrame(f core.RawFrame) error {
	if s.closed.Load() {
		return core.ErrSocketClosed
	}
	body, ok := f.Body()
	if !ok {
		return errors.New("frame range out of bounds")
	}
	return s.write(ws.NewFrame(ws.OpCode(f.Opcode), true, body))
}

func (s *socket) write(f ws.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return ws.WriteFrame(s.conn, f)
}

// sendClose writes one close frame per connection.
func (s *socket) sendClose(body []byte) {
	if s.closeSent.Swap(true) {
		return
	}
	_ = s.write(ws.NewCloseFrame(body))
}

func (s *socket) CloseSocket() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.sendClose(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
