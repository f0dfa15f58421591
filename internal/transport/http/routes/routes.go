// Package routes assembles the localhost agent surface: the OAuth
// redirect endpoints, the session status view, and the operational
// endpoints.
package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
	"github.com/sebastianstn/pdms-v6-sub002/internal/transport/http/handlers"
	"github.com/sebastianstn/pdms-v6-sub002/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Sessions handlers.SessionController
	Channels handlers.ChannelReporter
	Cache    CacheChecker
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 1)
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionHandler := handlers.NewSessionHandler(
		deps.Sessions,
		deps.Channels,
		deps.Config.Provider.PostLoginRedirect,
	)
	sessionHandler.RegisterRoutes(r)

	return r
}
