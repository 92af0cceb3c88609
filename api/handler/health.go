package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/models"
	"github.com/use-agent/shopcrawl/platform"
)

// Health returns a handler for GET /health. It answers 200 for as long as
// the process can serve requests.
func Health(port int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "healthy",
			Port:      port,
			Uptime:    time.Since(startTime).Seconds(),
			Memory:    models.ReadMemory(),
			Timestamp: models.Now(),
		})
	}
}

// Status returns a handler for GET /status.
func Status(cr Crawler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, cr.Status())
	}
}

// Platforms returns a handler for GET /platforms.
func Platforms() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.PlatformsResponse{Platforms: platform.Names()})
	}
}
