package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter APIのルーティングを設定したエンジンを返す
func NewRouter(farmMap *FarmMapHandler, auth *AuthHandler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "agromind-map"})
	})

	api := r.Group("/api")
	api.POST("/auth/login", auth.Login)

	protected := api.Group("")
	protected.Use(auth.RequireToken())
	{
		protected.GET("/auth/me", auth.Me)
		protected.GET("/farms", farmMap.ListFarms)
		protected.POST("/farms", farmMap.CreateFarm)
		protected.GET("/farms/:id/map", farmMap.GetMap)
		protected.PUT("/farms/:id/map", farmMap.SaveMap)
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
