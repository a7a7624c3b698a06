package router

import (
	"github.com/cuongbtq/labbox-api/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "labbox-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(serviceName, deps)
	sessionHandler := handler.NewSessionHandler(deps)
	feedHandler := handler.NewFeedHandler(deps)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// GET /ws - one worker session per connection
	r.GET("/ws", sessionHandler.ServeWS)

	// GET /sha1/:hash - stored job results and other objects
	r.GET("/sha1/:hash", feedHandler.GetObject)

	v1 := r.Group("/api/v1")
	{
		messages := v1.Group("/feeds/:feed_id/subfeeds/:subfeed_hash/messages")
		{
			messages.GET("", feedHandler.GetMessages)
			messages.POST("", feedHandler.AppendMessages)
		}

		if deps.Jobs != nil {
			jobHandler := handler.NewJobHandler(deps)

			jobs := v1.Group("/jobs")
			{
				jobs.GET("", jobHandler.ListJobs)
				jobs.GET("/:job_id", jobHandler.GetJob)
				jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
			}
		}
	}

	return r
}
