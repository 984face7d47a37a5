// Package fiber provides Fiber middleware for metergate enforcement.
package fiber

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/scribehub/metergate/pkg/metergate"
)

// SubjectExtractor extracts the rate-limit subject from a Fiber context.
// Return a zero-ID subject if the caller is not authenticated.
type SubjectExtractor func(c *fiber.Ctx) metergate.Subject

// UserIDExtractor extracts the quota-owning user ID from a Fiber context.
type UserIDExtractor func(c *fiber.Ctx) string

// PlanIDExtractor extracts the caller's active plan ID from a Fiber context.
type PlanIDExtractor func(c *fiber.Ctx) string

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
	OnDenied func(c *fiber.Ctx, decision metergate.Decision) error

	// OnUnauthorized is called when no subject can be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that authorizes the request
// and, when the handler succeeds, records usage.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Gate == nil {
		panic("metergate/fiber: Config.Gate is required")
	}
	if cfg.GetSubject == nil {
		panic("metergate/fiber: Config.GetSubject is required")
	}
	if cfg.GetUserID == nil {
		panic("metergate/fiber: Config.GetUserID is required")
	}
	if cfg.UsageDelta <= 0 {
		cfg.UsageDelta = 1
	}

	return func(c *fiber.Ctx) error {
		subject := cfg.GetSubject(c)
		if subject.ID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		planID := ""
		if cfg.GetPlanID != nil {
			planID = cfg.GetPlanID(c)
		}
		userID := cfg.GetUserID(c)

		decision := cfg.Gate.Authorize(c.UserContext(), metergate.AuthorizeRequest{
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

		if err := c.Next(); err != nil {
			return err
		}

		if c.Response().StatusCode() < fiber.StatusBadRequest {
			//nolint:errcheck // Failed writes are queued for retry by the tracker.
			_ = cfg.Gate.Tracker().RecordUsage(c.UserContext(), userID, cfg.Feature, cfg.UsageDelta)
		}
		return nil
	}
}

func writeDenied(c *fiber.Ctx, decision metergate.Decision) error {
	switch decision.Reason {
	case metergate.ReasonRateLimited:
		if rl := decision.RateLimit; rl != nil {
			seconds := int(time.Until(rl.ResetAt).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Set("Retry-After", strconv.Itoa(seconds))
			c.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			c.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":   string(decision.Reason),
			"message": "Rate limit exceeded. Retry after the reset time.",
		})
	case metergate.ReasonQuotaExceeded:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   string(decision.Reason),
			"message": "Monthly quota exceeded. Upgrade your plan or wait for the next billing month.",
		})
	case metergate.ReasonFeatureNotAvailable:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   string(decision.Reason),
			"message": "This feature is not available on your plan.",
		})
	default:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "denied"})
	}
}
