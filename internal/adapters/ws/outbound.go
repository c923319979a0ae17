package ws

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Outbound implements core.WebSocket on top of a transport socket.
// One mutex per connection keeps frames from different goroutines whole on the wire.
type Outbound struct {
	socket  core.Socket
	metrics *metrics.AppMetrics

	mu       sync.Mutex
	released atomic.Bool
}

func NewOutbound(s core.Socket, m *metrics.AppMetrics) *Outbound {
	return &Outbound{socket: s, metrics: m}
}

// IsOpen reports whether the socket handle is still held. The transports offer no
// half-close signal, so this is true until Close releases the handle.
func (o *Outbound) IsOpen() bool {
	return !o.released.Load()
}

func (o *Outbound) WriteText(s string) error {
	return o.write(core.NewRawFrame(core.OpText, []byte(s)))
}

// WriteBinary sends exactly b[offset:offset+length].
func (o *Outbound) WriteBinary(b []byte, offset, length int) error {
	return o.write(core.NewRawFrame(core.OpBinary, b[offset:offset+length]))
}

func (o *Outbound) write(f core.RawFrame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.socket.WriteFrame(f); err != nil {
		o.metrics.WriteError()
		return err
	}
	return nil
}

// Close asks the transport to close the socket. Failures are logged and dropped:
// by the time a processor closes, teardown is already under way.
func (o *Outbound) Close() {
	o.released.Store(true)
	if err := o.socket.CloseSocket(); err != nil {
		o.metrics.CloseError()
		log.Debug().Err(err).Str("module", "adapters.ws").Str("conn", string(o.socket.ID())).Msg("error closing websocket")
	}
}
