// Package memstore is an in-memory store.Store for tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/pkg/models"
)

// Store keeps rules, settings and keys in maps. Values are copied in and out
// so callers never share memory with the store.
type Store struct {
	mu       sync.Mutex
	rules    map[uuid.UUID]*models.AutomationRule
	settings map[string]*models.RetrySettings
	keys     map[uuid.UUID]*models.APIKey
	runLog   []RunWrite

	// Injected failures, returned verbatim when set.
	UpdateRunStateErr error
	GetSettingsErr    error
	SaveSettingsErr   error
}

// RunWrite records one UpdateRunState call as applied.
type RunWrite struct {
	RuleID uuid.UUID
	Status string
	Rule   models.AutomationRule
}

func New() *Store {
	return &Store{
		rules:    make(map[uuid.UUID]*models.AutomationRule),
		settings: make(map[string]*models.RetrySettings),
		keys:     make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) CreateAutomation(_ context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *Store) GetAutomation(_ context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return nil, store.ErrNotFound
	}
	return cloneRule(r), nil
}

func (s *Store) ListAutomations(_ context.Context, userID string) ([]*models.AutomationRule, error) {
	return s.list(func(r *models.AutomationRule) bool { return r.UserID == userID }), nil
}

func (s *Store) ListInFlightAutomations(_ context.Context) ([]*models.AutomationRule, error) {
	return s.list(func(r *models.AutomationRule) bool { return r.InFlight() }), nil
}

func (s *Store) list(keep func(*models.AutomationRule) bool) []*models.AutomationRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.AutomationRule{}
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) UpdateAutomation(_ context.Context, rule *models.AutomationRule) error {
	return s.mutate(rule.UserID, rule.ID, func(r *models.AutomationRule) {
		r.Name = rule.Name
		r.Trigger = rule.Trigger
		r.Action = rule.Action
		r.ActionType = rule.ActionType
		r.Target = rule.Target
		r.Message = rule.Message
		r.Schedule = rule.Schedule
	})
}

func (s *Store) SetAutomationEnabled(_ context.Context, userID string, id uuid.UUID, enabled bool) error {
	return s.mutate(userID, id, func(r *models.AutomationRule) { r.Enabled = enabled })
}

func (s *Store) UpdateRunState(_ context.Context, userID string, id uuid.UUID, status string, opts ...store.RunUpdateOption) error {
	if s.UpdateRunStateErr != nil {
		return s.UpdateRunStateErr
	}
	return s.mutate(userID, id, func(r *models.AutomationRule) {
		store.ApplyRunUpdate(r, status, opts...)
		s.runLog = append(s.runLog, RunWrite{RuleID: id, Status: status, Rule: *cloneRule(r)})
	})
}

func (s *Store) UpdateRetryOverride(_ context.Context, userID string, id uuid.UUID, o store.RetryOverride) error {
	return s.mutate(userID, id, func(r *models.AutomationRule) {
		r.RetryAttempts = o.Attempts
		r.RetryBaseDelay = o.BaseDelay
		r.RetryJitter = o.Jitter
	})
}

func (s *Store) DeleteAutomation(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) mutate(userID string, id uuid.UUID, fn func(*models.AutomationRule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return store.ErrNotFound
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RunWrites returns every run-state write in order.
func (s *Store) RunWrites() []RunWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunWrite, len(s.runLog))
	copy(out, s.runLog)
	return out
}

func (s *Store) GetRetrySettings(_ context.Context, userID string) (*models.RetrySettings, error) {
	if s.GetSettingsErr != nil {
		return nil, s.GetSettingsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rs
	return &cp, nil
}

func (s *Store) SaveRetrySettings(_ context.Context, settings *models.RetrySettings) error {
	if s.SaveSettingsErr != nil {
		return s.SaveSettingsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	cp := *settings
	s.settings[settings.UserID] = &cp
	return nil
}

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func cloneRule(r *models.AutomationRule) *models.AutomationRule {
	cp := *r
	cp.Target = clonePtr(r.Target)
	cp.Message = clonePtr(r.Message)
	cp.LastRunAt = clonePtr(r.LastRunAt)
	cp.LastRunJobID = clonePtr(r.LastRunJobID)
	cp.LastRunError = clonePtr(r.LastRunError)
	cp.RetryAttempts = clonePtr(r.RetryAttempts)
	cp.RetryBaseDelay = clonePtr(r.RetryBaseDelay)
	cp.RetryJitter = clonePtr(r.RetryJitter)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ store.Store = (*Store)(nil)
