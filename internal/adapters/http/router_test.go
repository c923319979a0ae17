package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/wsbridge/internal/config"
	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Mode:       "test",
		Secret:     "secret",
		Path:       "/ws",
		StaticPath: t.TempDir(),
		Metrics:    config.MetricsConfig{Enable: true, Path: "/metrics"},
	}
}

func TestRouter_HealthzAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := metrics.NewRegistry()
	metrics.NewAppMetrics(reg).Opened()
	r := SetupRouter(testConfig(t), Deps{Metrics: metrics.Handler(reg)})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "wsbridge_connections_opened_total 1")
}

func TestRouter_Stats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(testConfig(t), Deps{Stats: func() Stats {
		return Stats{Connections: 3, Rooms: []core.RoomInfo{{Name: "main", MemberCount: 3}}}
	}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Connections)
	require.Len(t, got.Rooms, 1)
	assert.Equal(t, 3, got.Rooms[0].MemberCount)
}

func TestRouter_ClientTokenIsStable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var tokens []string
	r := SetupRouter(testConfig(t), Deps{WS: func(c *gin.Context) {
		tokens = append(tokens, c.GetString(clientTokenKey))
		c.Status(http.StatusNoContent)
	}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Len(t, tokens, 2)
	assert.NotEmpty(t, tokens[0])
	assert.Equal(t, tokens[0], tokens[1])
}

func TestRouter_MetricsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.Metrics.Enable = false
	r := SetupRouter(cfg, Deps{Metrics: metrics.Handler(metrics.NewRegistry())})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, strings.Contains(rr.Body.String(), "go_goroutines"))
}

func TestRouter_EvictRoom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var evicted []string
	r := SetupRouter(testConfig(t), Deps{EvictRoom: func(name string) bool {
		evicted = append(evicted, name)
		return name == "main"
	}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/rooms/main", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"evicted":"main"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/rooms/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{"main", "nope"}, evicted)
}
