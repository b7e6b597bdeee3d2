package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/broadcast"
)

// SetupRouter wires the HTTP surface: health, REST endpoints, metrics,
// and the websocket upgrade path
func SetupRouter(handlers *Handlers, hub *broadcast.Hub, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(logger))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/events/:id/probabilities", handlers.GetProbabilities)
		api.GET("/events/:id/probabilities/history", handlers.GetProbabilityHistory)
		api.GET("/events/:id/state", handlers.GetGameState)

		api.POST("/simulations", handlers.CreateSimulation)
		api.GET("/simulations/:id", handlers.GetSimulation)
		api.DELETE("/simulations/:id", handlers.CancelSimulation)

		api.GET("/stats", handlers.GetStats)

		api.GET("/ws", hub.HandleWS)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/sources/:name/refresh", handlers.RefreshSource)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithWriter(logger.Writer())
}
