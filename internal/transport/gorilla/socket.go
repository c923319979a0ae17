package gorilla

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/gorilla/websocket"
)

// wsConn is an indirection over *websocket.Conn to ease testing.
type wsConn interface {
	NextReader() (int, io.Reader, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// socket implements core.Socket over a gorilla connection.
// gorilla's message type constants are the RFC 6455 opcodes, so they map 1:1 onto core.Opcode.
type socket struct {
	id        core.ConnID
	req       *core.Request
	conn      wsConn
	writeWait time.Duration

	// pending is the message returned by the last NextReader; it is consumed by ReadFrame.
	pendingOp     core.Opcode
	pendingReader io.Reader
	pendingBody   []byte
	hasPending    bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSocket(req *core.Request, conn wsConn, writeWait time.Duration) *socket {
	return &socket{id: req.ConnID, req: req, conn: conn, writeWait: writeWait}
}

func (s *socket) ID() core.ConnID        { return s.id }
func (s *socket) Request() *core.Request { return s.req }

// next blocks until the peer sends a message. A peer close is surfaced as a
// pending close frame rather than an error.
func (s *socket) next() error {
	mt, r, err := s.conn.NextReader()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			s.pendingOp = core.OpClose
			s.pendingBody = websocket.FormatCloseMessage(ce.Code, ce.Text)
			s.pendingReader = nil
			s.hasPending = true
			return nil
		}
		return err
	}
	s.pendingOp = core.Opcode(mt)
	s.pendingReader = r
	s.pendingBody = nil
	s.hasPending = true
	return nil
}

func (s *socket) pendingClose() bool {
	return s.hasPending && s.pendingOp == core.OpClose
}

func (s *socket) ReadFrame() (core.RawFrame, error) {
	if !s.hasPending {
		return core.RawFrame{}, core.ErrNoPendingFrame
	}
	s.hasPending = false
	if s.pendingReader == nil {
		return core.NewRawFrame(s.pendingOp, s.pendingBody), nil
	}
	b, err := io.ReadAll(s.pendingReader)
	s.pendingReader = nil
	if err != nil {
		return core.RawFrame{}, err
	}
	return core.NewRawFrame(s.pendingOp, b), nil
}

func (s *socket) WriteFrame(f core.RawFrame) error {
	if s.closed.Load() {
		return core.ErrSocketClosed
	}
	body, ok := f.Body()
	if !ok {
		return errors.New("frame range out of bounds")
	}
	deadline := time.Now().Add(s.writeWait)
	switch f.Opcode {
	case core.OpClose, core.OpPing, core.OpPong:
		return s.conn.WriteControl(int(f.Opcode), body, deadline)
	default:
		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return s.conn.WriteMessage(int(f.Opcode), body)
	}
}

// CloseSocket sends a normal close frame and releases the connection. Only the first call acts.
func (s *socket) CloseSocket() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
