// Package server implements the HTTP surface (C8): request admission
// (body limit, per-IP rate limit, bearer token verification), identity
// extraction, and the handlers for auth, credential settings, projects and
// generations. Dependency construction (config, store, vault, queue,
// redis) stays in cmd/api's main, which calls New with everything already
// built — this package only wires routes to handlers, the same separation
// the job queue and worker packages use.
package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/internal/vault"
)

// Deps is everything the HTTP surface needs, built by the caller.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Vault     *vault.Vault
	Redis     *redis.Client
	Publisher *streams.Publisher
	Registry  *prometheus.Registry
	Metrics   *telemetry.Metrics
	Gateway   http.Handler // serves the generation-events websocket upgrade
}

// New builds the echo application: middleware, error handling, and every
// route registered in §6 of the HTTP surface contract.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorEnvelope
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	if d.Metrics != nil {
		e.Use(d.Metrics.HTTPMiddleware())
	}

	secret := []byte(d.Config.Auth.JWTSecret)

	api := e.Group("/api")
	api.Use(middleware.BodyLimit(d.Config.Server.BodyLimit))
	api.Use(rateLimitMiddleware(d.Config.Server))
	protected := api.Group("", authMiddleware(secret))

	auth := &AuthHandler{
		Store:   d.Store,
		Secret:  secret,
		Auth:    d.Config.Auth,
		Vault:   d.Vault,
		Trusted: d.Config.Server.TrustedProxy,
	}
	auth.register(api, protected)

	settings := &SettingsHandler{
		Store:     d.Store,
		Vault:     d.Vault,
		Providers: d.Config.Providers,
		Trusted:   d.Config.Server.TrustedProxy,
	}
	settings.register(protected)

	projects := &ProjectsHandler{Store: d.Store}
	projects.register(protected)

	generations := &GenerationsHandler{Store: d.Store, Redis: d.Redis, Publisher: d.Publisher, Metrics: d.Metrics}
	generations.register(protected)

	health := &HealthHandler{Store: d.Store, Redis: d.Redis}
	health.register(protected)

	registry := d.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	protected.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if d.Gateway != nil {
		api.GET("/ws", echo.WrapHandler(d.Gateway))
	}

	return e
}

// Addr resolves the listen address, defaulting to :8080 when unset.
func Addr(cfg config.ServerConfig) string {
	if cfg.Listen == "" {
		return ":8080"
	}
	if cfg.Listen[0] != ':' {
		return ":" + cfg.Listen
	}
	return cfg.Listen
}
