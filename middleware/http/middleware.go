// Package http provides net/http middleware that gates handlers behind
// the metergate enforcement facade and records usage after the handler
// succeeds.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/scribehub/metergate/pkg/metergate"
)

// SubjectExtractor extracts the rate-limit subject from a request.
// Return a zero-ID subject if the caller is not authenticated.
type SubjectExtractor func(r *http.Request) metergate.Subject

// UserIDExtractor extracts the quota-owning user ID from a request.
type UserIDExtractor func(r *http.Request) string

// PlanIDExtractor extracts the caller's active plan ID from a request.
type PlanIDExtractor func(r *http.Request) string

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
	OnDenied func(w http.ResponseWriter, r *http.Request, decision metergate.Decision)

	// OnUnauthorized is called when no subject can be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware gates the wrapped handler: it authorizes before calling
// next and records usage only when next reports success (status < 400),
// so failed operations never consume quota.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.UsageDelta <= 0 {
		config.UsageDelta = 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := config.GetSubject(r)
			if subject.ID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			planID := ""
			if config.GetPlanID != nil {
				planID = config.GetPlanID(r)
			}
			userID := config.GetUserID(r)

			decision := config.Gate.Authorize(r.Context(), metergate.AuthorizeRequest{
				Subject: subject,
				UserID:  userID,
				PlanID:  planID,
				Feature: config.Feature,
			})
			if !decision.Allowed {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					WriteDenied(w, decision)
				}
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.status < http.StatusBadRequest {
				//nolint:errcheck // Failed writes are queued for retry by the tracker.
				_ = config.Gate.Tracker().RecordUsage(r.Context(), userID, config.Feature, config.UsageDelta)
			}
		})
	}
}

// WriteDenied writes the standard denial response for a decision:
// 429 with Retry-After for rate limits, 403 for quota and feature
// denials, each with a machine-readable code.
func WriteDenied(w http.ResponseWriter, decision metergate.Decision) {
	switch decision.Reason {
	case metergate.ReasonRateLimited:
		if rl := decision.RateLimit; rl != nil {
			seconds := int(time.Until(rl.ResetAt).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}
		writeJSONError(w, http.StatusTooManyRequests, string(decision.Reason),
			"Rate limit exceeded. Retry after the reset time.")
	case metergate.ReasonQuotaExceeded:
		writeJSONError(w, http.StatusForbidden, string(decision.Reason),
			"Monthly quota exceeded. Upgrade your plan or wait for the next billing month.")
	case metergate.ReasonFeatureNotAvailable:
		writeJSONError(w, http.StatusForbidden, string(decision.Reason),
			"This feature is not available on your plan.")
	default:
		writeJSONError(w, http.StatusForbidden, "denied", "Request denied.")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort response body.
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}

// statusRecorder captures the downstream status so usage is recorded
// only for successful operations.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// UserFromHeader returns a UserIDExtractor that reads a header value.
func UserFromHeader(header string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// PlanFromHeader returns a PlanIDExtractor that reads a header value.
func PlanFromHeader(header string) PlanIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// SubjectFromHeader returns a SubjectExtractor that builds a subject of
// the given kind from a header value.
func SubjectFromHeader(header string, kind metergate.SubjectKind) SubjectExtractor {
	return func(r *http.Request) metergate.Subject {
		return metergate.Subject{Kind: kind, ID: r.Header.Get(header)}
	}
}
