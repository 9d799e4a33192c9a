package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/rocoloco/brandguard-backend/internal/http/handlers"
	httpMW "github.com/rocoloco/brandguard-backend/internal/http/middleware"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

type RouterConfig struct {
	Logger         *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware

	GenerateHandler *httpH.GenerateHandler
	JobHandler      *httpH.JobHandler
	BrandHandler    *httpH.BrandHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.CORS())
	r.Use(httpMW.AttachTraceContext())
	if cfg.Logger != nil {
		r.Use(httpMW.RequestLogger(cfg.Logger))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Healthz)
	}

	api := r.Group("/v1")
	{
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Asset generation jobs
		if cfg.GenerateHandler != nil {
			api.POST("/generate", cfg.GenerateHandler.Generate)
		}
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/decision", cfg.JobHandler.SubmitDecision)
			api.GET("/jobs/:id/events", cfg.JobHandler.StreamEvents)
		}

		// Brand profiles
		if cfg.BrandHandler != nil {
			api.POST("/brands", cfg.BrandHandler.CreateBrand)
			api.GET("/brands/:id", cfg.BrandHandler.GetBrand)
		}
	}

	return r
}
