// Package models contains shared data models used across the automation service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Action types an automation rule can dispatch to the backend runner.
const (
	ActionTypeNotify   = "notify"
	ActionTypeEmail    = "email"
	ActionTypeWhatsApp = "whatsapp"
	ActionTypeTask     = "task"
)

// DefaultSchedule is the schedule label given to rules created without one.
const DefaultSchedule = "Manual"

// Run statuses recorded on a rule. Some are raw backend job statuses, others
// (never, ok, error, timeout) are only ever produced locally.
const (
	RunStatusNever    = "never"
	RunStatusQueued   = "queued"
	RunStatusStarted  = "started"
	RunStatusFinished = "finished"
	RunStatusOK       = "ok"
	RunStatusFailed   = "failed"
	RunStatusError    = "error"
	RunStatusTimeout  = "timeout"
	RunStatusDeferred = "deferred"
	RunStatusCanceled = "canceled"
	RunStatusStopped  = "stopped"
)

var validActionTypes = map[string]bool{
	ActionTypeNotify:   true,
	ActionTypeEmail:    true,
	ActionTypeWhatsApp: true,
	ActionTypeTask:     true,
}

// ValidActionType reports whether t is one of the supported action types.
func ValidActionType(t string) bool {
	return validActionTypes[t]
}

// AutomationRule is a user-owned, repeatable action. The LastRun* fields
// reflect the most recent "run now" and the backend job it produced.
type AutomationRule struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	UserID     string    `db:"user_id"     json:"user_id"`
	Name       string    `db:"name"        json:"name"`
	Trigger    string    `db:"trigger"     json:"trigger"`
	Action     string    `db:"action"      json:"action"`
	ActionType string    `db:"action_type" json:"action_type"`
	Target     *string   `db:"target"      json:"target,omitempty"`
	Message    *string   `db:"message"     json:"message,omitempty"`
	Schedule   string    `db:"schedule"    json:"schedule"`
	Enabled    bool      `db:"enabled"     json:"enabled"`

	LastRunAt     *time.Time `db:"last_run_at"     json:"last_run_at,omitempty"`
	LastRunStatus string     `db:"last_run_status" json:"last_run_status"`
	LastRunJobID  *string    `db:"last_run_job_id" json:"last_run_job_id,omitempty"`
	LastRunError  *string    `db:"last_run_error"  json:"last_run_error,omitempty"`

	RetryAttempts  *int     `db:"retry_attempts"   json:"retry_attempts"`
	RetryBaseDelay *float64 `db:"retry_base_delay" json:"retry_base_delay"`
	RetryJitter    *float64 `db:"retry_jitter"     json:"retry_jitter"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// InFlight reports whether the rule has a backend job that may still change state.
func (r *AutomationRule) InFlight() bool {
	if r.LastRunJobID == nil || *r.LastRunJobID == "" {
		return false
	}
	return r.LastRunStatus == RunStatusQueued || r.LastRunStatus == RunStatusStarted
}

// HasRetryOverride reports whether any per-rule retry field is set.
func (r *AutomationRule) HasRetryOverride() bool {
	return r.RetryAttempts != nil || r.RetryBaseDelay != nil || r.RetryJitter != nil
}
