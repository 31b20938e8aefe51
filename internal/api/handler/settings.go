package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/retry"
	"github.com/modofreelanceos/automations/pkg/models"
)

// RetryService holds retry defaults and per-rule overrides.
type RetryService interface {
	LoadDefaults(ctx context.Context, userID string) (models.RetryPolicy, error)
	SaveDefaults(ctx context.Context, userID string, policy models.RetryPolicy) (*models.RetrySettings, error)
	SaveOverride(ctx context.Context, userID string, ruleID uuid.UUID, o retry.Override) error
}

// NewGetRetryDefaultsHandler returns GET /api/v1/settings/retry.
func NewGetRetryDefaultsHandler(svc RetryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		policy, err := svc.LoadDefaults(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, policy)
	}
}

// NewPutRetryDefaultsHandler returns PUT /api/v1/settings/retry. The policy
// is stored as sent.
func NewPutRetryDefaultsHandler(svc RetryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var policy models.RetryPolicy
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		settings, err := svc.SaveDefaults(r.Context(), userID, policy)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, settings)
	}
}

// NewPutRetryOverrideHandler returns PUT /api/v1/automations/{ruleID}/retry
// and responds with the rule after the change.
func NewPutRetryOverrideHandler(svc RetryService, rules AutomationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		var o retry.Override
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := svc.SaveOverride(r.Context(), userID, id, o); err != nil {
			writeError(w, r, err)
			return
		}
		rule, err := rules.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}
