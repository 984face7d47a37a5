// Package echo provides Echo middleware for metergate enforcement.
package echo

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scribehub/metergate/pkg/metergate"
)

// SubjectExtractor extracts the rate-limit subject from an Echo context.
// Return a zero-ID subject if the caller is not authenticated.
type SubjectExtractor func(c echo.Context) metergate.Subject

// UserIDExtractor extracts the quota-owning user ID from an Echo context.
type UserIDExtractor func(c echo.Context) string

// PlanIDExtractor extracts the caller's active plan ID from an Echo context.
type PlanIDExtractor func(c echo.Context) string

// Config holds middleware configuration.
type Config struct {
	// Gate is the enforcement facade (required).
	Gate *metergate.Gate

	// GetSubject extracts the rate-limit subject (required).
	GetSubject SubjectExtractor

	// GetUserID extracts the quota owner (required).
	GetUserID UserIDExtractor

	// GetPlanID extracts the active plan; empty resolves to the free plan.
	GetPlanID PlanIDExtractor

	// Feature is the metered capability this route invokes (required).
	Feature metergate.Feature

	// UsageDelta is how much one successful request consumes (default: 1).
	UsageDelta int

	// OnDenied overrides the default denial responses.
	OnDenied func(c echo.Context, decision metergate.Decision) error

	// OnUnauthorized is called when no subject can be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that authorizes the request
// and, when the handler succeeds, records usage.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Gate == nil {
		panic("metergate/echo: Config.Gate is required")
	}
	if cfg.GetSubject == nil {
		panic("metergate/echo: Config.GetSubject is required")
	}
	if cfg.GetUserID == nil {
		panic("metergate/echo: Config.GetUserID is required")
	}
	if cfg.UsageDelta <= 0 {
		cfg.UsageDelta = 1
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subject := cfg.GetSubject(c)
			if subject.ID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			planID := ""
			if cfg.GetPlanID != nil {
				planID = cfg.GetPlanID(c)
			}
			userID := cfg.GetUserID(c)

			decision := cfg.Gate.Authorize(c.Request().Context(), metergate.AuthorizeRequest{
				Subject: subject,
				UserID:  userID,
				PlanID:  planID,
				Feature: cfg.Feature,
			})
			if !decision.Allowed {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, decision)
				}
				return writeDenied(c, decision)
			}

			if err := next(c); err != nil {
				return err
			}

			if c.Response().Status < http.StatusBadRequest {
				//nolint:errcheck // Failed writes are queued for retry by the tracker.
				_ = cfg.Gate.Tracker().RecordUsage(c.Request().Context(), userID, cfg.Feature, cfg.UsageDelta)
			}
			return nil
		}
	}
}

func writeDenied(c echo.Context, decision metergate.Decision) error {
	switch decision.Reason {
	case metergate.ReasonRateLimited:
		if rl := decision.RateLimit; rl != nil {
			seconds := int(time.Until(rl.ResetAt).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			h := c.Response().Header()
			h.Set("Retry-After", strconv.Itoa(seconds))
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error":   string(decision.Reason),
			"message": "Rate limit exceeded. Retry after the reset time.",
		})
	case metergate.ReasonQuotaExceeded:
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":   string(decision.Reason),
			"message": "Monthly quota exceeded. Upgrade your plan or wait for the next billing month.",
		})
	case metergate.ReasonFeatureNotAvailable:
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":   string(decision.Reason),
			"message": "This feature is not available on your plan.",
		})
	default:
		return c.JSON(http.StatusForbidden, map[string]string{"error": "denied"})
	}
}
