// Package gin provides Gin middleware for metergate enforcement.
package gin

import (
	"net/http"
	"strconv"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/scribehub/metergate/pkg/metergate"
)

// SubjectExtractor extracts the rate-limit subject from a Gin context.
// Return a zero-ID subject if the caller is not authenticated.
type SubjectExtractor func(c *gongin.Context) metergate.Subject

// UserIDExtractor extracts the quota-owning user ID from a Gin context.
type UserIDExtractor func(c *gongin.Context) string

// PlanIDExtractor extracts the caller's active plan ID from a Gin context.
type PlanIDExtractor func(c *gongin.Context) string

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
	OnDenied func(c *gongin.Context, decision metergate.Decision)

	// OnUnauthorized is called when no subject can be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that authorizes the request and,
// when the handler chain succeeds (status < 400), records usage.
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Gate == nil {
		panic("metergate/gin: Config.Gate is required")
	}
	if cfg.GetSubject == nil {
		panic("metergate/gin: Config.GetSubject is required")
	}
	if cfg.GetUserID == nil {
		panic("metergate/gin: Config.GetUserID is required")
	}
	if cfg.UsageDelta <= 0 {
		cfg.UsageDelta = 1
	}

	return func(c *gongin.Context) {
		subject := cfg.GetSubject(c)
		if subject.ID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			return
		}

		planID := ""
		if cfg.GetPlanID != nil {
			planID = cfg.GetPlanID(c)
		}
		userID := cfg.GetUserID(c)

		decision := cfg.Gate.Authorize(c.Request.Context(), metergate.AuthorizeRequest{
			Subject: subject,
			UserID:  userID,
			PlanID:  planID,
			Feature: cfg.Feature,
		})
		if !decision.Allowed {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
				c.Abort()
			} else {
				writeDenied(c, decision)
			}
			return
		}

		c.Next()

		if c.Writer.Status() < http.StatusBadRequest {
			//nolint:errcheck // Failed writes are queued for retry by the tracker.
			_ = cfg.Gate.Tracker().RecordUsage(c.Request.Context(), userID, cfg.Feature, cfg.UsageDelta)
		}
	}
}

func writeDenied(c *gongin.Context, decision metergate.Decision) {
	switch decision.Reason {
	case metergate.ReasonRateLimited:
		if rl := decision.RateLimit; rl != nil {
			seconds := int(time.Until(rl.ResetAt).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gongin.H{
			"error":   string(decision.Reason),
			"message": "Rate limit exceeded. Retry after the reset time.",
		})
	case metergate.ReasonQuotaExceeded:
		c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{
			"error":   string(decision.Reason),
			"message": "Monthly quota exceeded. Upgrade your plan or wait for the next billing month.",
		})
	case metergate.ReasonFeatureNotAvailable:
		c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{
			"error":   string(decision.Reason),
			"message": "This feature is not available on your plan.",
		})
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{"error": "denied"})
	}
}
