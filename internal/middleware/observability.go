package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

// Observability records request metrics and one structured log line per API call.
// Websocket and SSE routes only log at debug level; their latency is a session length.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if !strings.HasPrefix(c.Path(), "/api/") {
			return err
		}

		route := routeTemplate(c)
		method := c.Method()
		status := responseStatus(c, err)

		event := logger.With().
			Str("correlation_id", GetCorrelationID(c)).
			Str("route", route).
			Str("method", method).
			Int("status", status)
		if userID, ok := c.Locals(LocalUserID).(string); ok && userID != "" {
			event = event.Str("user_id", userID)
		}
		if roomID := c.Params("roomId"); roomID != "" {
			event = event.Str("room", strings.ToUpper(c.Params("roomType"))+":"+roomID)
		}
		requestLogger := event.Logger()

		if isLongLived(c.Path()) {
			requestLogger.Debug().Msg("session request finished")
			return err
		}

		duration := time.Since(start)
		statusLabel := strconv.Itoa(status)
		observability.HTTPRequests().WithLabelValues(method, route, statusLabel).Inc()
		observability.HTTPLatency().WithLabelValues(method, route).Observe(duration.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.HTTPErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			requestLogger.Error().Err(err).Dur("latency", duration).Msg("request failed")
		case status >= fiber.StatusBadRequest:
			requestLogger.Warn().Dur("latency", duration).Msg("request completed with client error")
		default:
			requestLogger.Info().Dur("latency", duration).Msg("request completed")
		}

		return err
	}
}

// responseStatus prefers the code of a returned fiber error, which the app error
// handler only writes after this middleware has run.
func responseStatus(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	if err != nil {
		return fiber.StatusInternalServerError
	}
	return c.Response().StatusCode()
}

func isLongLived(path string) bool {
	return strings.HasSuffix(path, "/ws") || strings.HasSuffix(path, "/stream")
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}
