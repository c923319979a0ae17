package core

// WebSocket is the output side handed to a processor.
// Implementations serialize writes per connection.
type WebSocket interface {
	// IsOpen reports whether the transport handle is still held.
	IsOpen() bool
	// WriteText sends one text frame.
	WriteText(s string) error
	// WriteBinary sends b[offset:offset+length] as one binary frame.
	// An out-of-range slice is a caller bug and panics.
	WriteBinary(b []byte, offset, length int) error
	// Close asks the transport to close the socket. Errors are not reported.
	Close()
}

// Processor turns normalized socket events into application behaviour.
// The adapter calls Open once, then any number of Invoke calls, then Close at most once.
type Processor interface {
	Open(req *Request) error
	InvokeText(text string) error
	InvokeBinary(data []byte, offset, length int) error
	Close(code int)
}

// ProcessorFactory creates one Processor per connection at open time.
type ProcessorFactory interface {
	NewProcessor(ws WebSocket) Processor
}

// ProcessorFactoryFunc adapts a function to ProcessorFactory.
type ProcessorFactoryFunc func(ws WebSocket) Processor

func (f ProcessorFactoryFunc) NewProcessor(ws WebSocket) Processor { return f(ws) }

// Registry associates a connection with its processor.
// Attach is only called from open, Detach only from close paths; Lookup may run concurrently with both.
type Registry interface {
	Attach(id ConnID, p Processor) error
	Lookup(id ConnID) (Processor, bool)
	Detach(id ConnID) (Processor, bool)
	// Range calls fn for every attached connection until fn returns false.
	// fn must not call back into the registry.
	Range(fn func(id ConnID, p Processor) bool)
}
