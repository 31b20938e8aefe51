package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/assistant"
)

const maxActionBytes = 64 << 10

// ActionDispatcher executes a parsed assistant action.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, userID string, payload []byte) (*assistant.Result, error)
}

// NewAssistantActionHandler returns POST /api/v1/assistant/actions.
func NewAssistantActionHandler(d ActionDispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxActionBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read body", nil)
			return
		}
		result, err := d.Dispatch(r.Context(), userID, payload)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, result)
	}
}
