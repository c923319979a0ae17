package ws

import (
	"fmt"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/rs/zerolog/log"
)

// closeCode is the reason code passed to Processor.Close by the adapter.
const closeCode = 0

// Handler dispatches transport lifecycle callbacks to per-connection processors.
// It implements core.SocketHandler.
type Handler struct {
	factory  core.ProcessorFactory
	registry core.Registry
	metrics  *metrics.AppMetrics
}

func NewHandler(factory core.ProcessorFactory, registry core.Registry, m *metrics.AppMetrics) *Handler {
	return &Handler{factory: factory, registry: registry, metrics: m}
}

// OnOpen creates the connection's processor, registers it and opens it.
// An Open failure is returned to the transport and leaves nothing registered.
func (h *Handler) OnOpen(s core.Socket) error {
	id := s.ID()
	log.Debug().Str("module", "adapters.ws").Str("conn", string(id)).Msg("socket opened")

	p := h.factory.NewProcessor(NewOutbound(s, h.metrics))
	if err := h.registry.Attach(id, p); err != nil {
		return fmt.Errorf("attach processor %s: %w", id, err)
	}
	if err := p.Open(s.Request()); err != nil {
		h.registry.Detach(id)
		h.metrics.ProcessorError("open")
		return fmt.Errorf("open processor %s: %w", id, err)
	}
	h.metrics.Opened()
	return nil
}

// OnFrame reads one frame and forwards it. Only a read failure is returned.
func (h *Handler) OnFrame(s core.Socket) error {
	raw, err := s.ReadFrame()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	id := s.ID()
	frame := Classify(raw)
	h.metrics.Frame(frame.Kind.String())

	logger := log.With().Str("module", "adapters.ws").Str("conn", string(id)).Str("kind", frame.Kind.String()).Logger()

	p, ok := h.registry.Lookup(id)
	if !ok {
		h.metrics.Dropped()
		logger.Debug().Msg("no processor for connection, skipping frame")
		return nil
	}

	switch frame.Kind {
	case core.FrameText:
		if err := p.InvokeText(frame.Text); err != nil {
			h.metrics.ProcessorError("text")
			logger.Error().Err(err).Msg("processor text")
		}
	case core.FrameBinary:
		if err := p.InvokeBinary(frame.Data, 0, len(frame.Data)); err != nil {
			h.metrics.ProcessorError("binary")
			logger.Error().Err(err).Msg("processor binary")
		}
	case core.FrameClose:
		logger.Debug().Int("code", frame.CloseCode).Msg("close frame")
		h.closeProcessor(id)
	default:
		logger.Debug().Str("opcode", frame.Opcode.String()).Msg("skipping frame")
	}
	return nil
}

// OnClose closes the processor unless a close frame already did.
func (h *Handler) OnClose(s core.Socket) {
	log.Debug().Str("module", "adapters.ws").Str("conn", string(s.ID())).Msg("socket closed")
	h.closeProcessor(s.ID())
}

// Drain closes every processor still attached and returns how many it closed.
// It runs after the transports stopped, for connections whose close callback never came.
func (h *Handler) Drain() int {
	var ids []core.ConnID
	h.registry.Range(func(id core.ConnID, _ core.Processor) bool {
		ids = append(ids, id)
		return true
	})
	n := 0
	for _, id := range ids {
		if h.closeProcessor(id) {
			n++
		}
	}
	if n > 0 {
		log.Warn().Str("module", "adapters.ws").Int("closed", n).Msg("drained processors")
	}
	return n
}

func (h *Handler) closeProcessor(id core.ConnID) bool {
	p, ok := h.registry.Detach(id)
	if !ok {
		return false
	}
	p.Close(closeCode)
	h.metrics.Closed()
	return true
}
