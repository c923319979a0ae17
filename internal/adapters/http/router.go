package http

import (
	"net/http"

	"github.com/dkeye/wsbridge/internal/config"
	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/transport"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable token kept in its session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			session.Set("ct", token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type Stats struct {
	Connections int                      `json:"connections"`
	Rooms       []core.RoomInfo          `json:"rooms"`
	Admission   transport.AdmissionStats `json:"admission"`
}

type Deps struct {
	WS      gin.HandlerFunc
	Metrics http.Handler
	Stats   func() Stats
	// EvictRoom closes every connection of a room and reports whether it existed.
	EvictRoom func(name string) bool
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("wsbridge", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	if cfg.Metrics.Enable && deps.Metrics != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api")
	api.GET("/stats", func(c *gin.Context) {
		if deps.Stats == nil {
			c.JSON(http.StatusOK, Stats{Rooms: []core.RoomInfo{}})
			return
		}
		c.JSON(http.StatusOK, deps.Stats())
	})
	if deps.EvictRoom != nil {
		api.DELETE("/rooms/:name", func(c *gin.Context) {
			name := c.Param("name")
			if !deps.EvictRoom(name) {
				c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
				return
			}
			log.Info().Str("module", "adapters.http").Str("room", name).Msg("room evicted via api")
			c.JSON(http.StatusOK, gin.H{"evicted": name})
		})
	}

	if deps.WS != nil {
		r.GET(cfg.Path, func(c *gin.Context) {
			log.Debug().Str("module", "adapters.http").Str("token", c.GetString(clientTokenKey)).Msg("ws endpoint hit")
			deps.WS(c)
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("ws", cfg.Path).Msg("router setup")
	return r
}
