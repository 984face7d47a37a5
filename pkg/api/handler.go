// Package api provides read-only HTTP endpoints for quota inspection:
// a user's current standing, the plan catalog, and proration previews.
// Admin dashboards and account pages consume these instead of reading
// the stores directly.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scribehub/metergate/pkg/metergate"
)

const maxUserIDLen = 255

// Config holds configuration for the inspection API handler.
type Config struct {
	// Catalog is the plan catalog (required).
	Catalog *metergate.Catalog

	// Tracker is the usage tracker (required for GetUsage).
	Tracker *metergate.Tracker

	// GetUserID extracts the user ID from a request (required for GetUsage).
	GetUserID func(*http.Request) string

	// GetPlanID extracts the user's active plan ID; empty resolves to
	// the free plan.
	GetPlanID func(*http.Request) string

	// OnError overrides default error handling.
	OnError func(http.ResponseWriter, *http.Request, error, int)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Tracker == nil {
		return fmt.Errorf("tracker is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// Handler serves the inspection endpoints.
type Handler struct {
	config Config
}

// NewHandler creates an inspection API handler.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{config: config}, nil
}

// GetUsage returns the user's quota standing for the current month.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	planID := ""
	if h.config.GetPlanID != nil {
		planID = h.config.GetPlanID(r)
	}
	plan := h.config.Catalog.Plan(planID)

	usage, err := h.config.Tracker.Usage(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := UsageResponse{
		UserID:   userID,
		PlanID:   plan.ID,
		Month:    usage.Month,
		Features: make(map[string]FeatureUsage, len(metergate.Features)),
	}
	for _, feature := range metergate.Features {
		limit := plan.QuotaFor(feature)
		used := usage.CountFor(feature)
		remaining := metergate.Unlimited
		if limit >= 0 {
			remaining = limit - used
			if remaining < 0 {
				remaining = 0
			}
		}
		resp.Features[string(feature)] = FeatureUsage{
			Enabled:   plan.Allows(feature),
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.config.Catalog.Plans()
	resp := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		pr := PlanResponse{
			ID:               p.ID,
			Name:             p.Name,
			MonthlyPrice:     p.MonthlyPrice,
			MaxContentLength: p.MaxContentLength,
			Quotas:           make(map[string]int, len(p.Quotas)),
			Features:         make(map[string]bool, len(p.Flags)),
		}
		for f, limit := range p.Quotas {
			pr.Quotas[string(f)] = limit
		}
		for f, enabled := range p.Flags {
			pr.Features[string(f)] = enabled
		}
		resp = append(resp, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PreviewProration quotes a plan change without side effects. Because
// the calculation is pure, this preview matches what billing applies.
func (h *Handler) PreviewProration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req ProrationPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	var cycleEnd time.Time
	if req.CycleEnd != "" {
		parsed, err := time.Parse(time.RFC3339, req.CycleEnd)
		if err != nil {
			h.handleError(w, r, fmt.Errorf("invalid cycle_end: %w", err), http.StatusBadRequest)
			return
		}
		cycleEnd = parsed
	}

	oldPlan := h.config.Catalog.Plan(req.OldPlanID)
	newPlan := h.config.Catalog.Plan(req.NewPlanID)
	days := metergate.DaysRemaining(cycleEnd, time.Now().UTC(), metergate.DefaultCycleDays)
	result := metergate.CalculateProration(oldPlan, newPlan, days)

	writeJSON(w, http.StatusOK, ProrationPreviewResponse{
		OldPlanID:     oldPlan.ID,
		NewPlanID:     newPlan.ID,
		DaysRemaining: days,
		Credit:        result.Credit,
		Charge:        result.Charge,
		Net:           result.Net,
	})
}

// Register mounts the endpoints on a mux under the given prefix.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc(prefix+"/usage", h.GetUsage)
	mux.HandleFunc(prefix+"/plans", h.ListPlans)
	mux.HandleFunc(prefix+"/proration/preview", h.PreviewProration)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, status)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort response body.
	_ = json.NewEncoder(w).Encode(v)
}

// UserIDFromHeader returns an extractor that reads the user ID from a header.
func UserIDFromHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// PlanIDFromHeader returns an extractor that reads the plan ID from a header.
func PlanIDFromHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}
