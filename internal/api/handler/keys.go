package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/auth"
	"github.com/modofreelanceos/automations/pkg/models"
)

// Scopes a personal access token may carry.
const (
	ScopeAutomations = "automations"
	ScopeKeys        = "keys"
)

var knownScopes = map[string]bool{ScopeAutomations: true, ScopeKeys: true}

// KeyStore persists personal access tokens.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error
}

type createdKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns POST /api/v1/keys. The raw key is only ever
// included in this response.
func NewCreateKeyHandler(st KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.ValidationFailed(w, map[string]string{"name": "name is required"})
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{ScopeAutomations}
		}
		for _, s := range req.Scopes {
			if !knownScopes[s] {
				response.ValidationFailed(w, map[string]string{"scopes": "unknown scope " + s})
				return
			}
		}

		generated, err := auth.GenerateAPIKey()
		if err != nil {
			writeError(w, r, err)
			return
		}
		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   generated.Hash,
			KeyPrefix: generated.Prefix,
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createdKey{APIKey: key, Key: generated.Raw})
	}
}

// NewListKeysHandler returns GET /api/v1/keys.
func NewListKeysHandler(st KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		keys, err := st.ListAPIKeys(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(st KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "keyID")
		if !ok {
			return
		}
		if err := st.RevokeAPIKey(r.Context(), id, userID); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
