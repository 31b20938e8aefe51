// Package automation manages the lifecycle of a user's automation rules.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/internal/validation"
	"github.com/modofreelanceos/automations/pkg/models"
)

// ErrRuleDisabled is returned when running a rule that is switched off.
var ErrRuleDisabled = errors.New("automation is disabled")

// Tracker triggers runs and follows their jobs.
type Tracker interface {
	RunNow(ctx context.Context, rule *models.AutomationRule, defaults models.RetryPolicy) error
	Reconcile(rules []*models.AutomationRule) int
	Forget(rule *models.AutomationRule)
}

// DefaultsLoader returns a user's retry defaults.
type DefaultsLoader interface {
	LoadDefaults(ctx context.Context, userID string) (models.RetryPolicy, error)
}

// CreateInput holds the fields of a new rule.
type CreateInput struct {
	Name       string  `json:"name"       validate:"required"`
	Trigger    string  `json:"trigger"    validate:"required"`
	Action     string  `json:"action"     validate:"required"`
	ActionType string  `json:"actionType" validate:"required,oneof=notify email whatsapp task"`
	Target     *string `json:"target"`
	Message    *string `json:"message"`
	Schedule   string  `json:"schedule"`
	Enabled    *bool   `json:"enabled"`
}

// UpdateInput changes the descriptive fields of a rule. Nil fields are kept.
type UpdateInput struct {
	Name       *string `json:"name"       validate:"omitnil,min=1"`
	Trigger    *string `json:"trigger"    validate:"omitnil,min=1"`
	Action     *string `json:"action"     validate:"omitnil,min=1"`
	ActionType *string `json:"actionType" validate:"omitnil,oneof=notify email whatsapp task"`
	Target     *string `json:"target"`
	Message    *string `json:"message"`
	Schedule   *string `json:"schedule"`
}

var inputMessages = map[string]string{
	"name":       "El nombre es obligatorio.",
	"trigger":    "El disparador es obligatorio.",
	"action":     "La acción es obligatoria.",
	"actionType": "El tipo de acción debe ser notify, email, whatsapp o task.",
}

// Service orchestrates rule storage, run tracking and retry defaults.
type Service struct {
	store    store.Store
	tracker  Tracker
	defaults DefaultsLoader
}

func NewService(st store.Store, tr Tracker, dl DefaultsLoader) *Service {
	return &Service{store: st, tracker: tr, defaults: dl}
}

// Create stores a new rule. Rules start enabled, with the manual schedule
// and no runs.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*models.AutomationRule, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Trigger = strings.TrimSpace(in.Trigger)
	in.Action = strings.TrimSpace(in.Action)
	if err := validation.Struct(in, inputMessages); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule := &models.AutomationRule{
		ID:            uuid.New(),
		UserID:        userID,
		Name:          in.Name,
		Trigger:       in.Trigger,
		Action:        in.Action,
		ActionType:    in.ActionType,
		Target:        blankToNil(in.Target),
		Message:       blankToNil(in.Message),
		Schedule:      in.Schedule,
		Enabled:       true,
		LastRunStatus: models.RunStatusNever,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if strings.TrimSpace(rule.Schedule) == "" {
		rule.Schedule = models.DefaultSchedule
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}

	if err := s.store.CreateAutomation(ctx, rule); err != nil {
		return nil, fmt.Errorf("creating automation: %w", err)
	}
	slog.Info("automation created", "rule_id", rule.ID, "user_id", userID, "action_type", rule.ActionType)
	return rule, nil
}

// List returns the user's rules, newest first, and resumes polling for any
// whose last run is still in flight.
func (s *Service) List(ctx context.Context, userID string) ([]*models.AutomationRule, error) {
	rules, err := s.store.ListAutomations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing automations: %w", err)
	}
	if n := s.tracker.Reconcile(rules); n > 0 {
		slog.Info("resumed job polling", "user_id", userID, "count", n)
	}
	return rules, nil
}

func (s *Service) Get(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error) {
	return s.store.GetAutomation(ctx, userID, id)
}

// Update applies in to the rule and returns the result.
func (s *Service) Update(ctx context.Context, userID string, id uuid.UUID, in UpdateInput) (*models.AutomationRule, error) {
	if err := validation.Struct(in, inputMessages); err != nil {
		return nil, err
	}

	rule, err := s.store.GetAutomation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		rule.Name = strings.TrimSpace(*in.Name)
	}
	if in.Trigger != nil {
		rule.Trigger = strings.TrimSpace(*in.Trigger)
	}
	if in.Action != nil {
		rule.Action = strings.TrimSpace(*in.Action)
	}
	if in.ActionType != nil {
		rule.ActionType = *in.ActionType
	}
	if in.Target != nil {
		rule.Target = blankToNil(in.Target)
	}
	if in.Message != nil {
		rule.Message = blankToNil(in.Message)
	}
	if in.Schedule != nil {
		rule.Schedule = *in.Schedule
		if strings.TrimSpace(rule.Schedule) == "" {
			rule.Schedule = models.DefaultSchedule
		}
	}

	if err := s.store.UpdateAutomation(ctx, rule); err != nil {
		return nil, fmt.Errorf("updating automation: %w", err)
	}
	return s.store.GetAutomation(ctx, userID, id)
}

func (s *Service) SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) (*models.AutomationRule, error) {
	if err := s.store.SetAutomationEnabled(ctx, userID, id, enabled); err != nil {
		return nil, err
	}
	return s.store.GetAutomation(ctx, userID, id)
}

// Delete removes the rule for good. Polling for its job stops first so no
// late status lands on a deleted rule.
func (s *Service) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	rule, err := s.store.GetAutomation(ctx, userID, id)
	if err != nil {
		return err
	}
	s.tracker.Forget(rule)
	if err := s.store.DeleteAutomation(ctx, userID, id); err != nil {
		return err
	}
	slog.Info("automation deleted", "rule_id", id, "user_id", userID)
	return nil
}

// RunNow triggers the rule on the backend and returns it with the recorded
// outcome. Backend failures are part of that outcome, not an error.
func (s *Service) RunNow(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error) {
	rule, err := s.store.GetAutomation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}

	defaults, err := s.defaults.LoadDefaults(ctx, userID)
	if err != nil {
		slog.Warn("using built-in retry defaults", "user_id", userID, "error", err)
	}
	if err := s.tracker.RunNow(ctx, rule, defaults); err != nil {
		return nil, err
	}
	return rule, nil
}

// ReconcileAll resumes polling for in-flight rules of every user. It returns
// the number of loops started.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	rules, err := s.store.ListInFlightAutomations(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing in-flight automations: %w", err)
	}
	return s.tracker.Reconcile(rules), nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
