// Package assistant executes structured actions proposed by the in-app
// assistant. Each action type owns its payload validation and its effect.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/automation"
	"github.com/modofreelanceos/automations/internal/validation"
	"github.com/modofreelanceos/automations/pkg/models"
)

// Action type names accepted in the "action" field.
const (
	ActionCreateAutomation    = "create_automation"
	ActionRunAutomation       = "run_automation"
	ActionToggleAutomation    = "toggle_automation"
	ActionDeleteAutomation    = "delete_automation"
	ActionUpdateRetryDefaults = "update_retry_defaults"
)

var (
	ErrUnknownAction  = errors.New("unknown assistant action")
	ErrInvalidPayload = errors.New("invalid assistant payload")
)

// Automations is the rule lifecycle the actions drive.
type Automations interface {
	Create(ctx context.Context, userID string, in automation.CreateInput) (*models.AutomationRule, error)
	RunNow(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error)
	SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) (*models.AutomationRule, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// RetryDefaults stores a user's global retry policy.
type RetryDefaults interface {
	SaveDefaults(ctx context.Context, userID string, policy models.RetryPolicy) (*models.RetrySettings, error)
}

// Result describes what an action did.
type Result struct {
	Action  string     `json:"action"`
	RuleID  *uuid.UUID `json:"rule_id,omitempty"`
	Message string     `json:"message"`
}

type handlerFunc func(ctx context.Context, userID string, raw json.RawMessage) (*Result, error)

// Dispatcher routes a payload to the handler registered for its action.
type Dispatcher struct {
	automations Automations
	retry       RetryDefaults
	handlers    map[string]handlerFunc
}

func NewDispatcher(a Automations, r RetryDefaults) *Dispatcher {
	d := &Dispatcher{automations: a, retry: r}
	d.handlers = map[string]handlerFunc{
		ActionCreateAutomation:    d.createAutomation,
		ActionRunAutomation:       d.runAutomation,
		ActionToggleAutomation:    d.toggleAutomation,
		ActionDeleteAutomation:    d.deleteAutomation,
		ActionUpdateRetryDefaults: d.updateRetryDefaults,
	}
	return d
}

// Actions lists the supported action names in order.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the action named in payload. Payload field errors come back
// as *validation.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, payload []byte) (*Result, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	handle, ok := d.handlers[envelope.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}
	return handle(ctx, userID, payload)
}

func decode[T any](raw json.RawMessage, messages map[string]string) (T, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validation.Struct(payload, messages); err != nil {
		return payload, err
	}
	return payload, nil
}

var payloadMessages = map[string]string{
	"ruleId":  "Falta el identificador de la automatización.",
	"enabled": "Indica si la automatización debe quedar activa.",
}

type rulePayload struct {
	RuleID string `json:"ruleId" validate:"required,uuid"`
}

func (p rulePayload) id() uuid.UUID {
	return uuid.MustParse(p.RuleID)
}

// createPayload nests the rule so its own "action" field does not clash with
// the dispatcher's.
type createPayload struct {
	Automation *automation.CreateInput `json:"automation"`
}

func (d *Dispatcher) createAutomation(ctx context.Context, userID string, raw json.RawMessage) (*Result, error) {
	var p createPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Automation == nil {
		return nil, &validation.Error{Fields: map[string]string{"automation": "Faltan los datos de la automatización."}}
	}
	rule, err := d.automations.Create(ctx, userID, *p.Automation)
	if err != nil {
		return nil, err
	}
	return &Result{
		Action:  ActionCreateAutomation,
		RuleID:  &rule.ID,
		Message: fmt.Sprintf("Automatización \"%s\" creada.", rule.Name),
	}, nil
}

func (d *Dispatcher) runAutomation(ctx context.Context, userID string, raw json.RawMessage) (*Result, error) {
	p, err := decode[rulePayload](raw, payloadMessages)
	if err != nil {
		return nil, err
	}
	id := p.id()
	rule, err := d.automations.RunNow(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Automatización \"%s\" en ejecución.", rule.Name)
	if rule.LastRunStatus == models.RunStatusError {
		msg = fmt.Sprintf("No se pudo ejecutar \"%s\".", rule.Name)
	}
	return &Result{Action: ActionRunAutomation, RuleID: &id, Message: msg}, nil
}

type togglePayload struct {
	rulePayload
	Enabled *bool `json:"enabled" validate:"required"`
}

func (d *Dispatcher) toggleAutomation(ctx context.Context, userID string, raw json.RawMessage) (*Result, error) {
	p, err := decode[togglePayload](raw, payloadMessages)
	if err != nil {
		return nil, err
	}
	id := p.id()
	rule, err := d.automations.SetEnabled(ctx, userID, id, *p.Enabled)
	if err != nil {
		return nil, err
	}
	state := "desactivada"
	if rule.Enabled {
		state = "activada"
	}
	return &Result{
		Action:  ActionToggleAutomation,
		RuleID:  &id,
		Message: fmt.Sprintf("Automatización \"%s\" %s.", rule.Name, state),
	}, nil
}

func (d *Dispatcher) deleteAutomation(ctx context.Context, userID string, raw json.RawMessage) (*Result, error) {
	p, err := decode[rulePayload](raw, payloadMessages)
	if err != nil {
		return nil, err
	}
	id := p.id()
	if err := d.automations.Delete(ctx, userID, id); err != nil {
		return nil, err
	}
	return &Result{Action: ActionDeleteAutomation, RuleID: &id, Message: "Automatización eliminada."}, nil
}

type retryDefaultsPayload struct {
	Attempts  *int     `json:"attempts"  validate:"required"`
	BaseDelay *float64 `json:"baseDelay" validate:"required"`
	Jitter    *float64 `json:"jitter"    validate:"required"`
}

func (d *Dispatcher) updateRetryDefaults(ctx context.Context, userID string, raw json.RawMessage) (*Result, error) {
	p, err := decode[retryDefaultsPayload](raw, nil)
	if err != nil {
		return nil, err
	}
	policy := models.RetryPolicy{Attempts: *p.Attempts, BaseDelay: *p.BaseDelay, Jitter: *p.Jitter}
	if _, err := d.retry.SaveDefaults(ctx, userID, policy); err != nil {
		return nil, err
	}
	return &Result{
		Action:  ActionUpdateRetryDefaults,
		Message: fmt.Sprintf("Reintentos: %d intentos, %.1fs base, jitter %.1f.", policy.Attempts, policy.BaseDelay, policy.Jitter),
	}, nil
}
