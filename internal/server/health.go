package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/internal/store"
)

// HealthHandler implements /api/health: liveness plus store/bus connection
// state, so an orchestrator's readiness probe reflects real dependency
// health rather than just "the process is running".
type HealthHandler struct {
	Store *store.Store
	Redis *redis.Client
}

type healthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

func (h *HealthHandler) register(g *echo.Group) {
	g.GET("/health", h.check)
}

func (h *HealthHandler) check(c echo.Context) error {
	ctx := c.Request().Context()
	status := healthStatus{Status: "ok", Postgres: "ok", Redis: "ok"}

	if err := h.Store.DB.PingContext(ctx); err != nil {
		status.Postgres = err.Error()
		status.Status = "degraded"
	}
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		status.Redis = err.Error()
		status.Status = "degraded"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return ok(c, code, status)
}
