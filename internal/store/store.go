package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// Every rule and settings lookup is scoped by user id.
type Store interface {
	Ping(ctx context.Context) error

	CreateAutomation(ctx context.Context, rule *models.AutomationRule) error
	GetAutomation(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error)
	ListAutomations(ctx context.Context, userID string) ([]*models.AutomationRule, error)
	ListInFlightAutomations(ctx context.Context) ([]*models.AutomationRule, error)
	UpdateAutomation(ctx context.Context, rule *models.AutomationRule) error
	SetAutomationEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) error
	UpdateRunState(ctx context.Context, userID string, id uuid.UUID, status string, opts ...RunUpdateOption) error
	UpdateRetryOverride(ctx context.Context, userID string, id uuid.UUID, override RetryOverride) error
	DeleteAutomation(ctx context.Context, userID string, id uuid.UUID) error

	GetRetrySettings(ctx context.Context, userID string) (*models.RetrySettings, error)
	SaveRetrySettings(ctx context.Context, settings *models.RetrySettings) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error
}

// RetryOverride holds the per-rule retry columns. All nil means "use the
// user's defaults".
type RetryOverride struct {
	Attempts  *int
	BaseDelay *float64
	Jitter    *float64
}

type runUpdateParams struct {
	RunAt       *time.Time
	JobID       *string
	SetJobID    bool
	RunError    *string
	SetRunError bool
}

// RunUpdateOption adds a column to an UpdateRunState write. Columns without
// an option are left untouched.
type RunUpdateOption func(*runUpdateParams)

func WithRunAt(t time.Time) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.RunAt = &t
	}
}

func WithJobID(id string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.JobID = &id
		p.SetJobID = true
	}
}

func ClearJobID() RunUpdateOption {
	return func(p *runUpdateParams) {
		p.JobID = nil
		p.SetJobID = true
	}
}

func WithRunError(msg string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.RunError = &msg
		p.SetRunError = true
	}
}

func ClearRunError() RunUpdateOption {
	return func(p *runUpdateParams) {
		p.RunError = nil
		p.SetRunError = true
	}
}

// ApplyRunUpdate applies opts to rule in memory, mirroring what UpdateRunState
// persists. Used by callers that keep a local copy and by test doubles.
func ApplyRunUpdate(rule *models.AutomationRule, status string, opts ...RunUpdateOption) {
	params := &runUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	rule.LastRunStatus = status
	if params.RunAt != nil {
		at := *params.RunAt
		rule.LastRunAt = &at
	}
	if params.SetJobID {
		rule.LastRunJobID = params.JobID
	}
	if params.SetRunError {
		rule.LastRunError = params.RunError
	}
}
