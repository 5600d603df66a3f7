package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/fieldcrew/backend/internal/app"
	"github.com/fieldcrew/backend/internal/http/handlers"
	"github.com/fieldcrew/backend/internal/http/middleware"
	"github.com/fieldcrew/backend/internal/metrics"

	_ "github.com/fieldcrew/backend/docs"
)

func Router(a *app.App, logger zerolog.Logger) *gin.Engine {
	cfg := a.Config
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Scheduler:      a.Scheduler,
		Proposals:      a.Repo,
		Availability:   a.Availability,
		Geocoder:       a.Geocoder,
		Distance:       a.Distance,
		Health:         a,
		Validator:      validator.New(),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	{
		api.GET("/proposals/:id", h.GetProposal)
		api.POST("/availability/check", h.CheckAvailability)
		api.POST("/geocode", h.Geocode)
		api.GET("/distance", h.EstimateDistance)
		api.POST("/distance/matrix", h.DistanceMatrix)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/schedules", h.CreateSchedule)
	}

	return r
}
