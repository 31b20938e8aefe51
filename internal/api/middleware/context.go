package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	principalKey    contextKey = "principal"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetUserID stores the authenticated user id. Exported for handler tests.
func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func GetUserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userIDKey).(string)
	return id, ok && id != ""
}

// principal identifies the credential for rate limiting: the session's user
// or the API key's prefix.
func setPrincipal(ctx context.Context, p string) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func getPrincipal(r *http.Request) (string, bool) {
	p, ok := r.Context().Value(principalKey).(string)
	return p, ok
}

// setScopes records API key scopes. Sessions carry no scopes entry and are
// allowed everything.
func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) ([]string, bool) {
	scopes, ok := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes, ok
}
