package metergate

import (
	"fmt"
	"time"
)

// Feature identifies a metered capability of the platform.
type Feature string

const (
	// FeatureContent is AI content generation.
	FeatureContent Feature = "content"
	// FeatureSentiment is sentiment analysis.
	FeatureSentiment Feature = "sentiment"
	// FeatureKeywords is keyword extraction.
	FeatureKeywords Feature = "keywords"
	// FeatureSummaries is text summarization.
	FeatureSummaries Feature = "summaries"
	// FeatureAPIAccess is programmatic (API-key) access.
	FeatureAPIAccess Feature = "api_calls"
)

// Features lists every metered feature in a stable order.
var Features = []Feature{
	FeatureContent,
	FeatureSentiment,
	FeatureKeywords,
	FeatureSummaries,
	FeatureAPIAccess,
}

// Unlimited marks a quota with no monthly cap.
const Unlimited = -1

// SubjectKind distinguishes the two rate-limit principals.
type SubjectKind string

const (
	// SubjectUser limits by authenticated user ID.
	SubjectUser SubjectKind = "user"
	// SubjectAPIKey limits by API key ID.
	SubjectAPIKey SubjectKind = "api_key"
)

// Subject is the principal a rate limit is tracked against. A subject
// has exactly one active plan at a time (the plan of its owning account).
type Subject struct {
	Kind SubjectKind
	ID   string
}

// UserSubject builds a user-keyed subject.
func UserSubject(userID string) Subject {
	return Subject{Kind: SubjectUser, ID: userID}
}

// APIKeySubject builds an API-key-keyed subject.
func APIKeySubject(keyID string) Subject {
	return Subject{Kind: SubjectAPIKey, ID: keyID}
}

// Key returns a stable string form used in counter keys.
func (s Subject) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Plan is immutable reference data describing a subscription tier.
// Instances are built once (from a PlanSource or the built-in defaults)
// and never mutated by the enforcement core.
type Plan struct {
	ID           string
	Name         string
	MonthlyPrice float64

	// MaxContentLength caps a single generation request, in characters.
	MaxContentLength int

	// Quotas maps features to monthly caps. Unlimited (-1) disables the
	// cap; a missing entry means the feature has no numeric quota and is
	// governed by its flag alone.
	Quotas map[Feature]int

	// Flags enables or disables features for the plan.
	Flags map[Feature]bool
}

// QuotaFor returns the monthly cap for a feature. Features without a
// configured cap are unlimited (the flag still gates access).
func (p Plan) QuotaFor(feature Feature) int {
	if limit, ok := p.Quotas[feature]; ok {
		return limit
	}
	return Unlimited
}

// Allows reports whether the plan enables a feature at all.
func (p Plan) Allows(feature Feature) bool {
	return p.Flags[feature]
}

// MonthlyUsage is one user's metered consumption for one calendar month.
// Counters only ever increase within a month; the row is created lazily
// on first metered use.
type MonthlyUsage struct {
	UserID string
	// Month is normalized to 00:00 UTC on the first day of the month.
	Month            time.Time
	ContentGenerated int
	SentimentUsed    int
	KeywordsUsed     int
	SummariesUsed    int
	APICalls         int
	UpdatedAt        time.Time
}

// CountFor returns the usage counter for a feature.
func (u *MonthlyUsage) CountFor(feature Feature) int {
	if u == nil {
		return 0
	}
	switch feature {
	case FeatureContent:
		return u.ContentGenerated
	case FeatureSentiment:
		return u.SentimentUsed
	case FeatureKeywords:
		return u.KeywordsUsed
	case FeatureSummaries:
		return u.SummariesUsed
	case FeatureAPIAccess:
		return u.APICalls
	}
	return 0
}

// Add applies a delta to the counter for a feature.
func (u *MonthlyUsage) Add(feature Feature, delta int) {
	switch feature {
	case FeatureContent:
		u.ContentGenerated += delta
	case FeatureSentiment:
		u.SentimentUsed += delta
	case FeatureKeywords:
		u.KeywordsUsed += delta
	case FeatureSummaries:
		u.SummariesUsed += delta
	case FeatureAPIAccess:
		u.APICalls += delta
	}
}

// MonthOf normalizes a timestamp to the first day of its UTC month.
func MonthOf(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RateLimitDecision is the outcome of a single window check.
type RateLimitDecision struct {
	Allowed   bool
	Class     LimitClass
	Limit     int
	Remaining int
	// ResetAt is when the violated (or current) window rolls over.
	ResetAt time.Time
}

// QuotaStatus is the outcome of a monthly quota check.
type QuotaStatus struct {
	Allowed bool
	Feature Feature
	Used    int
	// Limit is the plan's monthly cap, Unlimited (-1) when uncapped.
	Limit int
}

// Reason classifies why an authorization was denied.
type Reason string

const (
	// ReasonFeatureNotAvailable means the plan lacks the capability.
	// Permanent until a plan change; not retryable.
	ReasonFeatureNotAvailable Reason = "feature_not_available"
	// ReasonRateLimited means a short-horizon window is exhausted.
	// Retryable after Decision.RateLimit.ResetAt.
	ReasonRateLimited Reason = "rate_limited"
	// ReasonQuotaExceeded means the monthly cap is reached. Retryable
	// after the next billing month or a plan upgrade.
	ReasonQuotaExceeded Reason = "quota_exceeded"
)

// Decision is the structured result of Gate.Authorize. Expected denials
// are values, never errors.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RateLimit carries the violated window when Reason is
	// ReasonRateLimited, or the tightest passing window on allow.
	RateLimit *RateLimitDecision
	// Quota carries the quota standing when it was evaluated.
	Quota *QuotaStatus
}

// ProrationResult is the pure outcome of a mid-cycle plan change.
// Nothing is persisted or charged by this core; the caller decides how
// to bill the net amount.
type ProrationResult struct {
	// Credit is the value of unused time on the old plan.
	Credit float64
	// Charge is the cost of the remaining time at the new plan's rate.
	Charge float64
	// Net is Charge - Credit: positive for an upgrade, negative for a
	// downgrade, zero when prices match.
	Net float64
}
