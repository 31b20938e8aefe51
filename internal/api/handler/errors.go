package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/modofreelanceos/automations/internal/api/middleware"
	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/assistant"
	"github.com/modofreelanceos/automations/internal/automation"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/internal/validation"
)

// writeError maps service errors onto HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if fields := validation.Fields(err); fields != nil {
		response.ValidationFailed(w, fields)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "DUPLICATE", "Resource already exists", nil)
	case errors.Is(err, automation.ErrRuleDisabled):
		response.Error(w, http.StatusConflict, "RULE_DISABLED", "Automation is disabled", nil)
	case errors.Is(err, assistant.ErrUnknownAction):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_ACTION", err.Error(), nil)
	case errors.Is(err, assistant.ErrInvalidPayload):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// requireUser returns the authenticated user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
	}
	return userID, ok
}

// pathUUID parses the named URL parameter or writes a 400.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
