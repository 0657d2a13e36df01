package router

import (
	"github.com/cuongbtq/vidgen/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options tweak router behaviour that is not a handler dependency
type Options struct {
	CORSAllowOrigin string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.CORSAllowOrigin))
	r.Use(deps.Metrics.Middleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/health/render", healthHandler.RenderHealth)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	generationHandler := handler.NewGenerationHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		generations := v1.Group("/generations")
		{
			// POST /api/v1/generations - Submit a generation request
			generations.POST("", generationHandler.Submit)

			// GET /api/v1/generations/:job_id - Artifact or live status
			generations.GET("/:job_id", generationHandler.GetStatus)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - Archived jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - One archived job
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
