package ws

import (
	"errors"
	"sync"

	"github.com/dkeye/wsbridge/internal/core"
)

// fakeSocket serves queued frames and records writes.
type fakeSocket struct {
	id  core.ConnID
	req *core.Request

	mu       sync.Mutex
	inbound  []core.RawFrame
	written  []core.RawFrame
	closed   int
	closeErr error
	writeErr error
	// inWrite detects overlapping WriteFrame calls.
	inWrite bool
	overlap bool
}

func newFakeSocket(frames ...core.RawFrame) *fakeSocket {
	id := core.NewConnID()
	return &fakeSocket{id: id, req: &core.Request{ConnID: id}, inbound: frames}
}

func (s *fakeSocket) ID() core.ConnID        { return s.id }
func (s *fakeSocket) Request() *core.Request { return s.req }

func (s *fakeSocket) ReadFrame() (core.RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return core.RawFrame{}, core.ErrNoPendingFrame
	}
	f := s.inbound[0]
	s.inbound = s.inbound[1:]
	return f, nil
}

func (s *fakeSocket) WriteFrame(f core.RawFrame) error {
	s.mu.Lock()
	if s.inWrite {
		s.overlap = true
	}
	s.inWrite = true
	s.mu.Unlock()

	body, _ := f.Body()
	cp := core.NewRawFrame(f.Opcode, append([]byte(nil), body...))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inWrite = false
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, cp)
	return nil
}

func (s *fakeSocket) CloseSocket() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

// recordingProcessor logs every call it receives in order.
type recordingProcessor struct {
	mu      sync.Mutex
	calls   []string
	texts   []string
	binary  [][]byte
	offsets []int
	lengths []int
	closes  int
	openErr error
	textErr error
}

func (p *recordingProcessor) record(c string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *recordingProcessor) Open(*core.Request) error {
	p.record("open")
	return p.openErr
}

func (p *recordingProcessor) InvokeText(text string) error {
	p.record("text")
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()
	return p.textErr
}

func (p *recordingProcessor) InvokeBinary(data []byte, offset, length int) error {
	p.record("binary")
	p.mu.Lock()
	p.binary = append(p.binary, append([]byte(nil), data...))
	p.offsets = append(p.offsets, offset)
	p.lengths = append(p.lengths, length)
	p.mu.Unlock()
	return nil
}

func (p *recordingProcessor) Close(int) {
	p.record("close")
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
}

func (p *recordingProcessor) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// mapRegistry is a minimal core.Registry for adapter tests.
type mapRegistry struct {
	mu sync.Mutex
	m  map[core.ConnID]core.Processor
}

func newMapRegistry() *mapRegistry { return &mapRegistry{m: map[core.ConnID]core.Processor{}} }

func (r *mapRegistry) Attach(id core.ConnID, p core.Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; ok {
		return core.ErrAlreadyAttached
	}
	r.m[id] = p
	return nil
}

func (r *mapRegistry) Lookup(id core.ConnID) (core.Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	return p, ok
}

func (r *mapRegistry) Detach(id core.ConnID) (core.Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	delete(r.m, id)
	return p, ok
}

func (r *mapRegistry) Range(fn func(id core.ConnID, p core.Processor) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.m {
		if !fn(id, p) {
			return
		}
	}
}

var errBoom = errors.New("boom")
