package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/automation"
	"github.com/modofreelanceos/automations/pkg/models"
)

// AutomationService is the rule lifecycle the handlers depend on.
type AutomationService interface {
	Create(ctx context.Context, userID string, in automation.CreateInput) (*models.AutomationRule, error)
	List(ctx context.Context, userID string) ([]*models.AutomationRule, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error)
	Update(ctx context.Context, userID string, id uuid.UUID, in automation.UpdateInput) (*models.AutomationRule, error)
	SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) (*models.AutomationRule, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	RunNow(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error)
}

// JobStatusReader reports what is known about a backend job while it runs.
type JobStatusReader interface {
	JobStatus(ctx context.Context, jobID string) (status string, polling bool)
}

type runStatus struct {
	RuleID        uuid.UUID `json:"rule_id"`
	LastRunStatus string    `json:"last_run_status"`
	LastRunJobID  *string   `json:"last_run_job_id,omitempty"`
	JobStatus     string    `json:"job_status,omitempty"`
	Polling       bool      `json:"polling"`
}

// NewListAutomationsHandler returns GET /api/v1/automations.
func NewListAutomationsHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		rules, err := svc.List(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rules)
	}
}

// NewCreateAutomationHandler returns POST /api/v1/automations.
func NewCreateAutomationHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var in automation.CreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		rule, err := svc.Create(r.Context(), userID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, rule)
	}
}

// NewGetAutomationHandler returns GET /api/v1/automations/{ruleID}.
func NewGetAutomationHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		rule, err := svc.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}

// NewUpdateAutomationHandler returns PATCH /api/v1/automations/{ruleID}.
func NewUpdateAutomationHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		var in automation.UpdateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		rule, err := svc.Update(r.Context(), userID, id, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}

// NewDeleteAutomationHandler returns DELETE /api/v1/automations/{ruleID}.
func NewDeleteAutomationHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), userID, id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewSetEnabledHandler returns POST /api/v1/automations/{ruleID}/enabled.
func NewSetEnabledHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Enabled == nil {
			response.ValidationFailed(w, map[string]string{"enabled": "enabled is required"})
			return
		}
		rule, err := svc.SetEnabled(r.Context(), userID, id, *req.Enabled)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}

// NewRunAutomationHandler returns POST /api/v1/automations/{ruleID}/run.
// The run is accepted once the backend call has been recorded; the job's
// outcome shows up on the rule as polling progresses.
func NewRunAutomationHandler(svc AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		rule, err := svc.RunNow(r.Context(), userID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, rule)
	}
}

// NewRunStatusHandler returns GET /api/v1/automations/{ruleID}/status: the
// recorded run state plus the live job status while it is being polled.
func NewRunStatusHandler(svc AutomationService, jobs JobStatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		rule, err := svc.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := runStatus{
			RuleID:        rule.ID,
			LastRunStatus: rule.LastRunStatus,
			LastRunJobID:  rule.LastRunJobID,
		}
		if rule.LastRunJobID != nil {
			out.JobStatus, out.Polling = jobs.JobStatus(r.Context(), *rule.LastRunJobID)
		}
		response.JSON(w, out)
	}
}
