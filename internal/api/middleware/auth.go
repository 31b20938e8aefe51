package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/modofreelanceos/automations/internal/api/response"
	"github.com/modofreelanceos/automations/internal/auth"
	"github.com/modofreelanceos/automations/internal/store"
)

// SessionVerifier resolves a session token to a user id.
type SessionVerifier interface {
	Verify(token string) (string, error)
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store    store.Store
	sessions SessionVerifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store, sessions SessionVerifier) *Auth {
	return &Auth{store: s, sessions: sessions}
}

// Authenticate accepts either a session JWT or a personal access token as
// the Bearer credential and sets the user id in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if auth.IsAPIKey(token) {
			a.authenticateKey(w, r, next, token)
			return
		}

		userID, err := a.sessions.Verify(token)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid or expired session", nil)
			return
		}
		ctx := SetUserID(r.Context(), userID)
		ctx = setPrincipal(ctx, "user:"+userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) authenticateKey(w http.ResponseWriter, r *http.Request, next http.Handler, rawKey string) {
	prefix := rawKey[:auth.APIKeyLookupLen]

	keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
	if err != nil {
		response.Error(w, http.StatusInternalServerError,
			"INTERNAL_ERROR", "Failed to validate API key", nil)
		return
	}

	for _, key := range keys {
		if !auth.MatchAPIKey(key.KeyHash, rawKey) {
			continue
		}
		ctx := SetUserID(r.Context(), key.UserID)
		ctx = setPrincipal(ctx, "key:"+prefix)
		ctx = setScopes(ctx, key.Scopes)

		go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	response.Error(w, http.StatusUnauthorized,
		"INVALID_TOKEN", "Invalid API key", nil)
}

// RequireScope returns middleware that lets sessions through and checks that
// an API key carries scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, isKey := getScopes(r)
			if !isKey {
				next.ServeHTTP(w, r)
				return
			}
			for _, s := range scopes {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
