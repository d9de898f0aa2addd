package handler_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/handler"
)

type healthEnvelope struct {
	Success bool                   `json:"success"`
	Data    handler.HealthResponse `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName: "TeamHub Realtime",
		AppEnv:  "test",
	}

	app := fiber.New()
	app.Get("/health", handler.HealthCheck(cfg, handler.HealthProbes{}))

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to execute request: %v", err)
	}

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload healthEnvelope
	err = json.NewDecoder(resp.Body).Decode(&payload)
	assert.NoError(t, err)
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthCheckReportsRealtimeState(t *testing.T) {
	running := false
	app := fiber.New()
	app.Get("/health", handler.HealthCheck(config.Config{AppName: "TeamHub Realtime"}, handler.HealthProbes{
		Connections:   func() int { return 3 },
		BridgeEnabled: true,
		BridgeRunning: func() bool { return running },
	}))

	read := func() handler.HealthResponse {
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		var payload healthEnvelope
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		return payload.Data
	}

	health := read()
	assert.Equal(t, 3, health.Connections)
	assert.Equal(t, handler.BridgeInert, health.Bridge)

	running = true
	assert.Equal(t, handler.BridgeRunning, read().Bridge)
}
