package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/modofreelanceos/automations/internal/api/middleware"
	"github.com/modofreelanceos/automations/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS handling.
	CORSOrigins          []string
	CORSAllowCredentials bool

	HealthHandler http.HandlerFunc

	ListAutomations  http.HandlerFunc
	CreateAutomation http.HandlerFunc
	GetAutomation    http.HandlerFunc
	UpdateAutomation http.HandlerFunc
	DeleteAutomation http.HandlerFunc
	SetEnabled       http.HandlerFunc
	RunAutomation    http.HandlerFunc
	RunStatus        http.HandlerFunc
	PutRetryOverride http.HandlerFunc

	GetRetryDefaults http.HandlerFunc
	PutRetryDefaults http.HandlerFunc

	AssistantAction http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.CORSOrigins) > 0 {
		r.Use(mw.CORS(deps.CORSOrigins, deps.CORSAllowCredentials))
	}

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/automations", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.ListAutomations))
			r.Post("/", orNotImplemented(deps.CreateAutomation))

			r.Route("/{ruleID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetAutomation))
				r.Patch("/", orNotImplemented(deps.UpdateAutomation))
				r.Delete("/", orNotImplemented(deps.DeleteAutomation))
				r.Post("/enabled", orNotImplemented(deps.SetEnabled))
				r.Post("/run", orNotImplemented(deps.RunAutomation))
				r.Get("/status", orNotImplemented(deps.RunStatus))
				r.Put("/retry", orNotImplemented(deps.PutRetryOverride))
			})
		})

		r.Get("/api/v1/settings/retry", orNotImplemented(deps.GetRetryDefaults))
		r.Put("/api/v1/settings/retry", orNotImplemented(deps.PutRetryDefaults))

		r.Post("/api/v1/assistant/actions", orNotImplemented(deps.AssistantAction))

		// Key management needs a session or a key with the "keys" scope.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("keys"))

			r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
