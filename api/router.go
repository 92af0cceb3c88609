package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/api/handler"
	"github.com/use-agent/shopcrawl/api/middleware"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/engine"
	"github.com/use-agent/shopcrawl/models"
)

// NewRouter creates the sidecar control server.
//
// Middleware chain:
//
//	Global:  Recovery → Logger (stderr) → CORS
//	/crawl:  RateLimit (if enabled)
//
// Request logs go to stderr; stdout carries only the port handshake.
func NewRouter(cr handler.Crawler, cfg *config.Config, port int, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    os.Stderr,
		SkipPaths: []string{"/health"},
	}))
	r.Use(middleware.CORS())

	r.GET("/health", handler.Health(port, startTime))
	r.GET("/status", handler.Status(cr))
	r.GET("/platforms", handler.Platforms())
	if cfg.Server.EnableMetrics {
		r.GET("/metrics", gin.WrapH(engine.MetricsHandler()))
	}

	crawl := []gin.HandlerFunc{}
	if cfg.RateLimit.Enabled {
		crawl = append(crawl, middleware.RateLimit(cfg.RateLimit))
	}
	crawl = append(crawl, handler.Crawl(cr))
	r.POST("/crawl", crawl...)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not Found"})
	})
	return r
}
