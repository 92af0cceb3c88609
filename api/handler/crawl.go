package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/models"
)

// Crawler is the engine surface the handlers need.
type Crawler interface {
	Execute(ctx context.Context, task *models.CrawlTask) *models.CrawlResult
	Status() models.EngineStatus
}

// Crawl returns a handler for POST /crawl.
//
// A body that is not a well-formed task is answered with 400. Everything
// after that, including unsupported platforms and navigation failures,
// is a 200 carrying success:false.
func Crawl(cr Crawler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var task models.CrawlTask
		if err := c.ShouldBindJSON(&task); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: "invalid request body: " + err.Error(),
				Code:  models.ErrCodeInvalidTask,
			})
			return
		}
		if err := task.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: err.Error(),
				Code:  models.ErrorCode(err),
			})
			return
		}

		c.JSON(http.StatusOK, cr.Execute(c.Request.Context(), &task))
	}
}
