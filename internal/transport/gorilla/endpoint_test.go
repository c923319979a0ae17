package gorilla

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	wsadapter "github.com/dkeye/wsbridge/internal/adapters/ws"
	"github.com/dkeye/wsbridge/internal/app"
	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/dkeye/wsbridge/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProcessor writes every frame back and records its lifecycle.
type echoProcessor struct {
	out    core.WebSocket
	mu     sync.Mutex
	req    *core.Request
	closes int
	closed chan struct{}
}

func (p *echoProcessor) Open(req *core.Request) error {
	p.mu.Lock()
	p.req = req
	p.mu.Unlock()
	return nil
}

func (p *echoProcessor) InvokeText(text string) error {
	if text == "bye" {
		p.out.Close()
		return nil
	}
	return p.out.WriteText("echo:" + text)
}

func (p *echoProcessor) InvokeBinary(data []byte, offset, length int) error {
	return p.out.WriteBinary(data, offset, length)
}

func (p *echoProcessor) Close(int) {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	close(p.closed)
}

type harness struct {
	srv     *httptest.Server
	ep      *Endpoint
	metrics *metrics.AppMetrics
	procs   chan *echoProcessor
}

func newHarness(t *testing.T, adm *transport.Admission, opts Options) *harness {
	t.Helper()
	h := &harness{
		metrics: metrics.NewAppMetrics(prometheus.NewRegistry()),
		procs:   make(chan *echoProcessor, 8),
	}
	factory := core.ProcessorFactoryFunc(func(ws core.WebSocket) core.Processor {
		p := &echoProcessor{out: ws, closed: make(chan struct{})}
		h.procs <- p
		return p
	})
	handler := wsadapter.NewHandler(factory, app.NewRegistry(0), h.metrics)
	h.ep = NewEndpoint(handler, adm, h.metrics, opts)
	h.srv = httptest.NewServer(h.ep)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(u, nil)
}

func (h *harness) nextProc(t *testing.T) *echoProcessor {
	t.Helper()
	select {
	case p := <-h.procs:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no processor created")
		return nil
	}
}

func waitClosed(t *testing.T, p *echoProcessor) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("processor not closed")
	}
}

func TestEndpoint_EchoAndPeerClose(t *testing.T) {
	h := newHarness(t, nil, Options{})
	c, _, err := h.dial(t, "?room=r1")
	require.NoError(t, err)
	p := h.nextProc(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hi")))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "echo:hi", string(data))

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	mt, data, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)

	p.mu.Lock()
	assert.Equal(t, "r1", p.req.Query("room"))
	assert.NotEmpty(t, p.req.ConnID)
	p.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	require.NoError(t, c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	waitClosed(t, p)
	_ = c.Close()

	assert.Eventually(t, func() bool { return h.ep.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	p.mu.Lock()
	assert.Equal(t, 1, p.closes)
	p.mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FramesTotal.WithLabelValues("close")))
}

func TestEndpoint_ProcessorClose(t *testing.T) {
	h := newHarness(t, nil, Options{})
	c, _, err := h.dial(t, "")
	require.NoError(t, err)
	defer c.Close()
	p := h.nextProc(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("bye")))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	waitClosed(t, p)
}

func TestEndpoint_AbruptDisconnect(t *testing.T) {
	h := newHarness(t, nil, Options{})
	c, _, err := h.dial(t, "")
	require.NoError(t, err)
	p := h.nextProc(t)

	require.NoError(t, c.UnderlyingConn().Close())
	waitClosed(t, p)
}

func TestEndpoint_RejectsOverLimit(t *testing.T) {
	h := newHarness(t, transport.NewAdmission(0, 0, 1), Options{})
	c, _, err := h.dial(t, "")
	require.NoError(t, err)
	defer c.Close()
	h.nextProc(t)

	_, resp, err := h.dial(t, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UpgradesRejected.WithLabelValues("max_connections")))
}

func TestEndpoint_KeepalivePings(t *testing.T) {
	h := newHarness(t, nil, Options{PingPeriod: 20 * time.Millisecond, PongWait: time.Second})
	c, _, err := h.dial(t, "")
	require.NoError(t, err)
	defer c.Close()
	h.nextProc(t)

	pinged := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestEndpoint_Shutdown(t *testing.T) {
	h := newHarness(t, nil, Options{})
	c, _, err := h.dial(t, "")
	require.NoError(t, err)
	defer c.Close()
	p := h.nextProc(t)

	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ep.Shutdown(ctx))
	waitClosed(t, p)
	assert.Equal(t, 0, h.ep.Len())

	_, _, err = h.dial(t, "")
	assert.Error(t, err)
}
