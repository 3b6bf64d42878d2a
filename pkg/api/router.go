package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/api/handler"
	"github.com/LENAX/async-task/pkg/api/middleware"
)

// SetupRouter 设置路由
func SetupRouter(jobs handler.JobService, events handler.EventSource, version string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))

	jobHandler := handler.NewJobHandler(jobs)
	eventHandler := handler.NewEventHandler(events, logger)
	healthHandler := handler.NewHealthHandler(version, jobs)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		jobsGroup := v1.Group("/jobs")
		{
			jobsGroup.GET("", jobHandler.List)
			jobsGroup.GET("/history", jobHandler.History)
			jobsGroup.GET("/:id", jobHandler.Get)
			jobsGroup.POST("/:id/cancel", jobHandler.Cancel)
		}
		v1.GET("/events", eventHandler.Stream)
	}

	return router
}
