package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	promdto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teamhub-realtime/internal/middleware"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

func TestRegisterPropagatesCorrelationID(t *testing.T) {
	logger := zerolog.Nop()
	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	app.Get("/api/v1/ping", func(c *fiber.Ctx) error {
		return c.SendString(middleware.CorrelationIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "req-123", resp.Header.Get("X-Correlation-ID"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}

func TestCorrelationIDFromQueryForWebsocketUpgrades(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Get("/ws", func(c *fiber.Ctx) error {
		return c.SendString(middleware.GetCorrelationID(c))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws?correlation_id=sock-9", nil))
	require.NoError(t, err)
	require.Equal(t, "sock-9", resp.Header.Get("X-Correlation-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ws?correlation_id=sock-9", nil)
	req.Header.Set("X-Correlation-ID", "hdr-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "hdr-1", resp.Header.Get("X-Correlation-ID"))
}

func TestRegisterExposesCorrelationHeaderToConfiguredOrigins(t *testing.T) {
	logger := zerolog.Nop()
	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: "https://app.teamhub.test"})
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://app.teamhub.test")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "https://app.teamhub.test", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Correlation-ID", resp.Header.Get("Access-Control-Expose-Headers"))
}

func TestObservabilitySkipsLongLivedRoutes(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.Observability(zerolog.Nop()))
	app.Get("/api/v1/chat/ws", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/api/v1/chat/rooms/:roomType/:roomId/count", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusTeapot) })

	route := "/api/v1/chat/rooms/:roomType/:roomId/count"
	before := counterValue(t, observability.HTTPErrors().WithLabelValues(http.MethodGet, route, "418"))

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms/TEAM/1/count", nil))
	require.NoError(t, err)

	require.Equal(t, before+1, counterValue(t, observability.HTTPErrors().WithLabelValues(http.MethodGet, route, "418")))
	require.Zero(t, counterValue(t, observability.HTTPRequests().WithLabelValues(http.MethodGet, "/api/v1/chat/ws", "204")))
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric promdto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestObservabilityCountsReturnedFiberErrors(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.Observability(zerolog.Nop()))
	app.Get("/api/v1/notifications/:id/read", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "notification not found")
	})

	route := "/api/v1/notifications/:id/read"
	before := counterValue(t, observability.HTTPErrors().WithLabelValues(http.MethodGet, route, "404"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/9/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, before+1, counterValue(t, observability.HTTPErrors().WithLabelValues(http.MethodGet, route, "404")))
}
