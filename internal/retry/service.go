package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/backend"
	"github.com/modofreelanceos/automations/internal/cache"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/internal/validation"
	"github.com/modofreelanceos/automations/pkg/models"
)

var overrideMessages = map[string]string{
	"attempts":  "Los intentos deben estar entre 1 y 10.",
	"baseDelay": "El retraso base debe ser al menos 0.1 segundos.",
	"jitter":    "El jitter no puede ser negativo.",
}

// Override is the per-rule retry form. When Enabled is false the rule falls
// back to the user's defaults and the numeric fields are ignored.
type Override struct {
	Enabled   bool     `json:"enabled"`
	Attempts  *int     `json:"attempts"  validate:"required,min=1,max=10"`
	BaseDelay *float64 `json:"baseDelay" validate:"required,gte=0.1"`
	Jitter    *float64 `json:"jitter"    validate:"required,gte=0"`
}

// Validate checks the numeric fields of an enabled override.
func (o Override) Validate() error {
	if !o.Enabled {
		return nil
	}
	return validation.Struct(o, overrideMessages)
}

// Service holds each user's retry defaults and applies per-rule overrides.
type Service struct {
	store    store.Store
	backend  backend.Client
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewService creates a retry Service. ca may be nil, in which case backend
// defaults are fetched on every first-time load.
func NewService(st store.Store, bc backend.Client, ca cache.Cache, cacheTTL time.Duration) *Service {
	return &Service{store: st, backend: bc, cache: ca, cacheTTL: cacheTTL}
}

// LoadDefaults returns the user's stored policy. A user without one gets the
// backend's defaults, which are then stored as their policy. If the backend
// cannot be reached the built-in policy is returned and nothing is stored.
// Only a failure to read the store is returned.
func (s *Service) LoadDefaults(ctx context.Context, userID string) (models.RetryPolicy, error) {
	settings, err := s.store.GetRetrySettings(ctx, userID)
	if err == nil {
		return settings.Policy, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.DefaultRetryPolicy(), fmt.Errorf("loading retry settings: %w", err)
	}

	policy, err := s.backendDefaults(ctx, userID)
	if err != nil {
		slog.Warn("backend retry defaults unavailable", "user_id", userID, "error", err)
		return models.DefaultRetryPolicy(), nil
	}

	if err := s.store.SaveRetrySettings(ctx, &models.RetrySettings{UserID: userID, Policy: policy}); err != nil {
		slog.Warn("storing initial retry settings", "user_id", userID, "error", err)
	}
	return policy, nil
}

func (s *Service) backendDefaults(ctx context.Context, userID string) (models.RetryPolicy, error) {
	key := cache.BackendDefaultsKey()
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var policy models.RetryPolicy
			if json.Unmarshal(data, &policy) == nil {
				return policy, nil
			}
		}
	}

	d, err := s.backend.Defaults(ctx, userID)
	if err != nil {
		return models.RetryPolicy{}, err
	}
	policy := fillDefaults(d)

	if s.cache != nil {
		if data, err := json.Marshal(policy); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.Debug("caching backend retry defaults", "error", err)
			}
		}
	}
	return policy, nil
}

func fillDefaults(d *backend.Defaults) models.RetryPolicy {
	policy := models.DefaultRetryPolicy()
	if d == nil {
		return policy
	}
	if d.Attempts != nil {
		policy.Attempts = *d.Attempts
	}
	if d.BaseDelay != nil {
		policy.BaseDelay = *d.BaseDelay
	}
	if d.Jitter != nil {
		policy.Jitter = *d.Jitter
	}
	return policy
}

// SaveDefaults overwrites the user's policy as given. Range checks apply to
// per-rule overrides only.
func (s *Service) SaveDefaults(ctx context.Context, userID string, policy models.RetryPolicy) (*models.RetrySettings, error) {
	settings := &models.RetrySettings{
		UserID:    userID,
		Policy:    policy,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveRetrySettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("saving retry settings: %w", err)
	}
	return settings, nil
}

// SaveOverride sets or clears a rule's retry override. An invalid enabled
// override returns *validation.Error and writes nothing.
func (s *Service) SaveOverride(ctx context.Context, userID string, ruleID uuid.UUID, o Override) error {
	if err := o.Validate(); err != nil {
		return err
	}

	var override store.RetryOverride
	if o.Enabled {
		override = store.RetryOverride{Attempts: o.Attempts, BaseDelay: o.BaseDelay, Jitter: o.Jitter}
	}
	if err := s.store.UpdateRetryOverride(ctx, userID, ruleID, override); err != nil {
		return fmt.Errorf("saving retry override: %w", err)
	}
	return nil
}

// Effective resolves each retry field from the rule's override, falling back
// to defaults field by field.
func Effective(rule *models.AutomationRule, defaults models.RetryPolicy) models.RetryPolicy {
	policy := defaults
	if rule.RetryAttempts != nil {
		policy.Attempts = *rule.RetryAttempts
	}
	if rule.RetryBaseDelay != nil {
		policy.BaseDelay = *rule.RetryBaseDelay
	}
	if rule.RetryJitter != nil {
		policy.Jitter = *rule.RetryJitter
	}
	return policy
}
