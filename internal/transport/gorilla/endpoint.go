package gorilla

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/dkeye/wsbridge/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Subprotocols []string
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

// Endpoint upgrades HTTP requests to WebSocket connections and drives
// a core.SocketHandler for each of them.
type Endpoint struct {
	handler   core.SocketHandler
	admission *transport.Admission
	metrics   *metrics.AppMetrics
	opts      Options
	upgrader  websocket.Upgrader

	wg      sync.WaitGroup
	mu      sync.Mutex
	sockets map[core.ConnID]*socket
	closing bool
}

func NewEndpoint(h core.SocketHandler, adm *transport.Admission, m *metrics.AppMetrics, opts Options) *Endpoint {
	opts = opts.withDefaults()
	return &Endpoint{
		handler:   h,
		admission: adm,
		metrics:   m,
		opts:      opts,
		upgrader: websocket.Upgrader{
			Subprotocols: opts.Subprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		sockets: make(map[core.ConnID]*socket),
	}
}

// Handle is the gin entry point. It picks up the client token set by the router middleware.
func (e *Endpoint) Handle(c *gin.Context) {
	e.serve(c.Writer, c.Request, c.GetString("client_token"))
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, "")
}

func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request, token string) {
	if e.isClosing() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := e.admission.Admit(); err != nil {
		e.reject(w, err)
		return
	}
	defer e.admission.Release()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warn().Err(err).Str("module", "transport.gorilla").Str("remote", r.RemoteAddr).Msg("ws upgrade")
		return
	}

	id := core.NewConnID()
	req := &core.Request{
		ConnID:      id,
		Method:      r.Method,
		URL:         r.URL,
		Header:      r.Header.Clone(),
		RemoteAddr:  r.RemoteAddr,
		ClientToken: token,
		Subprotocol: conn.Subprotocol(),
	}
	s := newSocket(req, conn, e.opts.WriteWait)
	if !e.track(s) {
		_ = s.CloseSocket()
		return
	}
	defer e.forget(s)

	e.configure(conn)
	e.run(s)
}

func (e *Endpoint) reject(w http.ResponseWriter, err error) {
	status, reason := http.StatusServiceUnavailable, "max_connections"
	if errors.Is(err, transport.ErrRateLimited) {
		status, reason = http.StatusTooManyRequests, "rate"
	}
	e.metrics.Rejected(reason)
	log.Warn().Err(err).Str("module", "transport.gorilla").Msg("upgrade rejected")
	http.Error(w, err.Error(), status)
}

func (e *Endpoint) configure(conn *websocket.Conn) {
	if e.opts.ReadLimit > 0 {
		conn.SetReadLimit(e.opts.ReadLimit)
	}
	if e.opts.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(e.opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(e.opts.PongWait))
		})
	}
}

// run owns the connection's read side until it ends.
func (e *Endpoint) run(s *socket) {
	logger := log.With().Str("module", "transport.gorilla").Str("conn", string(s.id)).Logger()

	if err := e.handler.OnOpen(s); err != nil {
		logger.Warn().Err(err).Msg("open rejected")
		_ = s.CloseSocket()
		e.handler.OnClose(s)
		return
	}

	stop := make(chan struct{})
	go e.keepalive(s, stop)

	for {
		if err := s.next(); err != nil {
			if !s.closed.Load() {
				logger.Debug().Err(err).Msg("read ended")
			}
			break
		}
		last := s.pendingClose()
		if err := e.handler.OnFrame(s); err != nil {
			logger.Debug().Err(err).Msg("frame read failed")
			break
		}
		if last {
			break
		}
	}

	close(stop)
	_ = s.CloseSocket()
	e.handler.OnClose(s)
}

func (e *Endpoint) keepalive(s *socket, stop <-chan struct{}) {
	if e.opts.PingPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(e.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (e *Endpoint) isClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closing
}

func (e *Endpoint) track(s *socket) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.sockets[s.id] = s
	e.wg.Add(1)
	return true
}

func (e *Endpoint) forget(s *socket) {
	e.mu.Lock()
	delete(e.sockets, s.id)
	e.mu.Unlock()
	e.wg.Done()
}

// Len reports the number of live connections.
func (e *Endpoint) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sockets)
}

// Shutdown closes every live connection and waits for their handlers to finish.
// Hijacked connections are not tracked by http.Server.Shutdown, hence this.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	live := make([]*socket, 0, len(e.sockets))
	for _, s := range e.sockets {
		live = append(live, s)
	}
	e.mu.Unlock()

	for _, s := range live {
		_ = s.CloseSocket()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("module", "transport.gorilla").Int("closed", len(live)).Msg("endpoint shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
