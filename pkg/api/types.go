package api

import "time"

// UsageResponse is the complete quota standing for a user.
type UsageResponse struct {
	UserID   string                  `json:"user_id"`
	PlanID   string                  `json:"plan_id"`
	Month    time.Time               `json:"month"`
	Features map[string]FeatureUsage `json:"features"`
}

// FeatureUsage is the standing for a single metered feature.
type FeatureUsage struct {
	Enabled   bool `json:"enabled"`
	Limit     int  `json:"limit"` // -1 for unlimited
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"` // -1 for unlimited
}

// PlanResponse describes one catalog plan.
type PlanResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	MonthlyPrice     float64         `json:"monthly_price"`
	MaxContentLength int             `json:"max_content_length"`
	Quotas           map[string]int  `json:"quotas"`
	Features         map[string]bool `json:"features"`
}

// ProrationPreviewRequest asks what a plan change would cost.
type ProrationPreviewRequest struct {
	OldPlanID string `json:"old_plan_id"`
	NewPlanID string `json:"new_plan_id"`
	// CycleEnd is RFC 3339; empty assumes a full cycle remaining.
	CycleEnd string `json:"cycle_end,omitempty"`
}

// ProrationPreviewResponse is the quoted adjustment.
type ProrationPreviewResponse struct {
	OldPlanID     string  `json:"old_plan_id"`
	NewPlanID     string  `json:"new_plan_id"`
	DaysRemaining int     `json:"days_remaining"`
	Credit        float64 `json:"credit"`
	Charge        float64 `json:"charge"`
	Net           float64 `json:"net"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
