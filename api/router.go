package api

import (
	"time"

	"vtools/config"
	"vtools/tools"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(reg *tools.Registry, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	h := NewHandler(reg, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/tools", h.handleListTools)

		tool := v1.Group("/tools/:tool")
		tool.GET("/files", h.handleListFiles)
		tool.DELETE("/files", h.handleRemoveFile)
		tool.POST("/clear-finished", h.handleClearFinished)
		tool.POST("/drop", h.handleDrop)

		// Serial tools only
		tool.GET("/staged", h.handleListStaged)
		tool.DELETE("/staged", h.handleClearStaged)
		tool.DELETE("/staged/:index", h.handleUnstage)
		tool.POST("/commit", h.handleCommit)
	}
	return r
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
