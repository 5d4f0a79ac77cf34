package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	statusHandler := handler.NewStatusHandler(deps)

	// Health check endpoint
	r.GET("/health", statusHandler.Health)

	// Prometheus exposition
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	runHandler := handler.NewRunHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/workers - Active worker processes
		v1.GET("/workers", statusHandler.ListWorkers)

		runs := v1.Group("/runs")
		{
			// GET /api/v1/runs - List runs with filtering and pagination
			runs.GET("", runHandler.ListRuns)

			// GET /api/v1/runs/:run_id - Get run details
			runs.GET("/:run_id", runHandler.GetRun)
		}

		if deps.Publisher != nil {
			pipelineHandler := handler.NewPipelineHandler(deps)

			// POST /api/v1/pipelines - Submit a pipeline-start request
			v1.POST("/pipelines", pipelineHandler.SubmitPipeline)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Not found",
		})
	})

	return r
}
