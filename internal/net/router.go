package net

import (
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gridclash/internal/match"
	"gridclash/internal/net/proto"
	"gridclash/internal/net/ws"
)

// StatusSource reports the live match state.
type StatusSource interface {
	Status() match.Status
}

// CounterSource exposes accumulated counters for diagnostics.
type CounterSource interface {
	Snapshot() map[string]uint64
}

type RouterConfig struct {
	Status   StatusSource
	Counters CounterSource
	Hub      *ws.Hub
	WS       *ws.Handler
	TickRate int
	// Mode is passed to gin.SetMode. Empty keeps gin's default.
	Mode string
}

// NewRouter builds the HTTP surface: the websocket endpoint plus read-only
// status and diagnostics routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(nethttp.StatusOK, "ok")
	})

	r.GET("/match", func(c *gin.Context) {
		if cfg.Status == nil {
			c.JSON(nethttp.StatusServiceUnavailable, gin.H{"error": "match unavailable"})
			return
		}
		c.JSON(nethttp.StatusOK, cfg.Status.Status())
	})

	r.GET("/diagnostics", func(c *gin.Context) {
		payload := gin.H{
			"status":     "ok",
			"serverTime": time.Now().UnixMilli(),
			"tickRate":   cfg.TickRate,
		}
		if cfg.Hub != nil {
			payload["sessions"] = cfg.Hub.Sessions()
		}
		if cfg.Counters != nil {
			payload["telemetry"] = cfg.Counters.Snapshot()
		}
		c.JSON(nethttp.StatusOK, payload)
	})

	r.GET("/protocol/schema", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, proto.Schema())
	})

	if cfg.WS != nil {
		r.GET("/ws", func(c *gin.Context) {
			cfg.WS.Handle(c.Writer, c.Request)
		})
	}

	return r
}
