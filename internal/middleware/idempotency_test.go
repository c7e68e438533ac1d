package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/logging"
)

func setupIdempotentApp(t *testing.T, required bool) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls int32
	app := fiber.New()
	app.Use(Idempotency(cache, IdempotencyConfig{TTL: time.Minute, Required: required}, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/broken", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusInternalServerError).SendString("boom")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key, body string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(payload), resp.Header.Get("Idempotent-Replay")
}

func TestIdempotencyRequiresHeaderWhenConfigured(t *testing.T) {
	app, calls := setupIdempotentApp(t, true)
	status, _, _ := post(t, app, "/resource", "", "{}")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestIdempotencyOptionalHeaderPassesThrough(t *testing.T) {
	app, calls := setupIdempotentApp(t, false)
	post(t, app, "/resource", "", "{}")
	post(t, app, "/resource", "", "{}")
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t, true)

	status, first, replayed := post(t, app, "/resource", "abc123", `{"a":1}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, replayed)

	status, second, replayed := post(t, app, "/resource", "abc123", `{"a":1}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "true", replayed)
	assert.JSONEq(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	app, calls := setupIdempotentApp(t, true)
	post(t, app, "/resource", "k1", `{"a":1}`)
	status, _, _ := post(t, app, "/resource", "k1", `{"a":2}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestIdempotencyFreesKeyAfterServerError(t *testing.T) {
	app, calls := setupIdempotentApp(t, true)
	status, _, _ := post(t, app, "/broken", "k2", "{}")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	status, _, _ = post(t, app, "/broken", "k2", "{}")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}
