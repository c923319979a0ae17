package gobwas

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/dkeye/wsbridge/internal/transport"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const handshakeTimeout = 10 * time.Second

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Subprotocols []string
}

// Server is a raw TCP WebSocket listener working at frame level.
type Server struct {
	handler   core.SocketHandler
	admission *transport.Admission
	metrics   *metrics.AppMetrics
	opts      Options
	addr      net.Addr

	wg      sync.WaitGroup
	mu      sync.Mutex
	sockets map[core.ConnID]*socket
	closing bool
}

// StartServer listens on addr and runs the accept loop in g until ctx is done.
// On exit every live connection is closed and awaited.
func StartServer(
	ctx context.Context,
	g *errgroup.Group,
	addr string,
	h core.SocketHandler,
	adm *transport.Admission,
	m *metrics.AppMetrics,
	opts Options,
) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	srv := &Server{
		handler:   h,
		admission: adm,
		metrics:   m,
		opts:      opts,
		addr:      ln.Addr(),
		sockets:   make(map[core.ConnID]*socket),
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	g.Go(func() error {
		defer srv.closeAll()
		log.Info().Str("module", "transport.gobwas").Str("addr", srv.addr.String()).Msg("frame server listening")
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				return err
			}
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				srv.serveConn(conn)
			}()
		}
	})

	return srv, nil
}

func (srv *Server) Addr() net.Addr { return srv.addr }

func (srv *Server) serveConn(conn net.Conn) {
	id := core.NewConnID()
	req := &core.Request{
		ConnID:     id,
		Method:     http.MethodGet,
		Header:     http.Header{},
		RemoteAddr: conn.RemoteAddr().String(),
	}
	admitted := false

	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			parsed, err := url.ParseRequestURI(string(uri))
			if err != nil {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusBadRequest))
			}
			req.URL = parsed
			return nil
		},
		OnHeader: func(key, value []byte) error {
			req.Header.Add(string(key), string(value))
			return nil
		},
		Protocol: func(p []byte) bool {
			for _, sp := range srv.opts.Subprotocols {
				if string(p) == sp {
					return true
				}
			}
			return false
		},
		OnBeforeUpgrade: func() (ws.HandshakeHeader, error) {
			if err := srv.admission.Admit(); err != nil {
				status, reason := http.StatusServiceUnavailable, "max_connections"
				if errors.Is(err, transport.ErrRateLimited) {
					status, reason = http.StatusTooManyRequests, "rate"
				}
				srv.metrics.Rejected(reason)
				return nil, ws.RejectConnectionError(ws.RejectionStatus(status), ws.RejectionReason(err.Error()))
			}
			admitted = true
			return nil, nil
		},
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hs, err := u.Upgrade(conn)
	if admitted {
		defer srv.admission.Release()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "transport.gobwas").Str("remote", req.RemoteAddr).Msg("ws upgrade")
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	req.Subprotocol = hs.Protocol

	s := newSocket(req, conn, bufio.NewReader(conn), srv.opts.ReadLimit, srv.opts.WriteWait)
	srv.mu.Lock()
	if srv.closing {
		srv.mu.Unlock()
		_ = s.CloseSocket()
		return
	}
	srv.sockets[id] = s
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.sockets, id)
		srv.mu.Unlock()
	}()

	srv.run(s)
}

func (srv *Server) run(s *socket) {
	logger := log.With().Str("module", "transport.gobwas").Str("conn", string(s.id)).Logger()

	if err := srv.handler.OnOpen(s); err != nil {
		logger.Warn().Err(err).Msg("open rejected")
		_ = s.CloseSocket()
		srv.handler.OnClose(s)
		return
	}

	stop := make(chan struct{})
	go srv.keepalive(s, stop)

	for {
		if err := s.extendRead(srv.opts.PongWait); err != nil {
			logger.Debug().Err(err).Msg("set read deadline")
			break
		}
		if err := s.next(); err != nil {
			if !s.closed.Load() {
				logger.Debug().Err(err).Msg("read ended")
			}
			break
		}
		last := s.pendingClose()
		if err := srv.handler.OnFrame(s); err != nil {
			logger.Debug().Err(err).Msg("frame read failed")
			break
		}
		if last {
			break
		}
	}

	close(stop)
	_ = s.CloseSocket()
	srv.handler.OnClose(s)
}

// keepalive pings the peer every PingPeriod. Any frame the peer sends, pongs
// included, pushes the read deadline out by PongWait.
func (srv *Server) keepalive(s *socket, stop <-chan struct{}) {
	if srv.opts.PingPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(srv.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}

// Len reports the number of live connections.
func (srv *Server) Len() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sockets)
}

func (srv *Server) closeAll() {
	srv.mu.Lock()
	srv.closing = true
	live := make([]*socket, 0, len(srv.sockets))
	for _, s := range srv.sockets {
		live = append(live, s)
	}
	srv.mu.Unlock()

	for _, s := range live {
		_ = s.CloseSocket()
	}
	srv.wg.Wait()
	log.Info().Str("module", "transport.gobwas").Int("closed", len(live)).Msg("frame server stopped")
}
