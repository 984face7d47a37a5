package fiber_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fibermw "github.com/scribehub/metergate/middleware/fiber"
	"github.com/scribehub/metergate/pkg/metergate"
	"github.com/scribehub/metergate/storage/memory"
)

func newTestGate(t *testing.T) *metergate.Gate {
	t.Helper()
	store := memory.New()
	catalog := metergate.NewCatalog(metergate.DefaultPlans())

	limiter, err := metergate.NewLimiter(store, metergate.LimiterConfig{})
	require.NoError(t, err)
	tracker, err := metergate.NewTracker(store, catalog, metergate.TrackerConfig{})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	gate, err := metergate.NewGate(catalog, limiter, tracker)
	require.NoError(t, err)
	return gate
}

func newTestApp(gate *metergate.Gate, feature metergate.Feature, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Post("/v1/op", fibermw.Middleware(fibermw.Config{
		Gate: gate,
		GetSubject: func(c *fiber.Ctx) metergate.Subject {
			return metergate.UserSubject(c.Get("X-User-ID"))
		},
		GetUserID: func(c *fiber.Ctx) string {
			return c.Get("X-User-ID")
		},
		GetPlanID: func(c *fiber.Ctx) string {
			return c.Get("X-Plan-ID")
		},
		Feature: feature,
	}), handler)
	return app
}

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "done"})
}

func doRequest(t *testing.T, app *fiber.App, userID, planID string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/op", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if planID != "" {
		req.Header.Set("X-Plan-ID", planID)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestMiddleware_AllowsAndRecordsUsage(t *testing.T) {
	gate := newTestGate(t)
	app := newTestApp(gate, metergate.FeatureContent, okHandler)

	resp := doRequest(t, app, "u1", "professional")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	usage, err := gate.Tracker().Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.CountFor(metergate.FeatureContent))
}

func TestMiddleware_MissingSubjectIsUnauthorized(t *testing.T) {
	gate := newTestGate(t)
	app := newTestApp(gate, metergate.FeatureContent, okHandler)

	resp := doRequest(t, app, "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_FeatureNotAvailable(t *testing.T) {
	gate := newTestGate(t)
	app := newTestApp(gate, metergate.FeatureAPIAccess, okHandler)

	resp := doRequest(t, app, "u1", "basic")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), string(metergate.ReasonFeatureNotAvailable))
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	gate := newTestGate(t)
	app := newTestApp(gate, metergate.FeatureContent, okHandler)

	for i := 0; i < 5; i++ {
		resp := doRequest(t, app, "u1", "free")
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}

	resp := doRequest(t, app, "u1", "free")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMiddleware_RateLimited(t *testing.T) {
	gate := newTestGate(t)
	// Failing handler: no usage is recorded, so the minute window trips
	// before the monthly quota.
	app := newTestApp(gate, metergate.FeatureContent, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream"})
	})

	for i := 0; i < 10; i++ {
		resp := doRequest(t, app, "u1", "")
		require.Equal(t, http.StatusBadGateway, resp.StatusCode, "request %d", i)
	}

	resp := doRequest(t, app, "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
