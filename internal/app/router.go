package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veroniica/detector-de-mentiras/internal/handlers"
)

type RouterConfig struct {
	PipelineHandler *handlers.PipelineHandler
	CaseHandler     *handlers.CaseHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("detector-de-mentiras"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthz", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/ingest", cfg.PipelineHandler.Ingest)
		api.GET("/executions", cfg.PipelineHandler.ListExecutions)
		api.GET("/executions/:audioID", cfg.PipelineHandler.DescribeExecution)
		api.GET("/cases/:caseID/report", cfg.CaseHandler.Report)
		api.POST("/cases/:caseID/recompute", cfg.CaseHandler.Recompute)
	}

	return router
}
