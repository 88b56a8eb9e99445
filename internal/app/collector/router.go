package collector

import (
	"time"

	"github.com/gin-gonic/gin"

	modelClient "mmcagent/internal/model/client"
	"mmcagent/internal/pkg/logger"
)

// NewRouter 创建收集端路由
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog())

	stat := engine.Group("/stat")
	{
		stat.POST("/reg_client", h.RegisterClient)
		stat.POST("/client_heartbeat", h.ClientHeartbeat)
		stat.GET("/clients", h.ListClients)
		stat.DELETE("/clients/:uuid", h.RevokeClient)
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return engine
}

// accessLog 访问日志中间件
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		logger.LogAccessRequest(logger.AccessLogEntry{
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start).Milliseconds(),
			ClientIP:     c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			ClientUUID:   c.GetHeader(modelClient.HeaderClientUUID),
		})
	}
}
