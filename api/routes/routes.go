package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/inventory-etl/api/handlers"
	"github.com/feichai0017/inventory-etl/api/middleware"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID(), middleware.AccessLog(log), middleware.CORS())

	// 健康检查
	r.GET("/health", h.Health.Check)

	v1 := r.Group("/api/v1")

	// ETL 路由组
	jobs := v1.Group("/etl")
	{
		jobs.POST("/upload", h.ETL.Upload)
		jobs.GET("/jobs", h.ETL.ListJobs)
		jobs.GET("/jobs/:jobId", h.ETL.GetJob)
		jobs.POST("/jobs/:jobId/cancel", h.ETL.CancelJob)
		jobs.POST("/validate", h.ETL.Validate)
		jobs.POST("/validate-sheets", h.ETL.ValidateSheets)
		jobs.POST("/inspect", h.ETL.Inspect)
	}

	// 查询路由组
	q := v1.Group("/query")
	{
		q.POST("/ask", h.Query.Ask)
		q.POST("/execute", h.Query.Execute)
	}
}
