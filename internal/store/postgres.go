package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modofreelanceos/automations/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Automations ---

const automationColumns = `id, user_id, name, trigger, action, action_type, target, message, schedule, enabled,
	last_run_at, last_run_status, last_run_job_id, last_run_error,
	retry_attempts, retry_base_delay, retry_jitter, created_at, updated_at`

func scanAutomation(row pgx.Row) (*models.AutomationRule, error) {
	var r models.AutomationRule
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Trigger, &r.Action, &r.ActionType, &r.Target,
		&r.Message, &r.Schedule, &r.Enabled,
		&r.LastRunAt, &r.LastRunStatus, &r.LastRunJobID, &r.LastRunError,
		&r.RetryAttempts, &r.RetryBaseDelay, &r.RetryJitter, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectAutomations(rows pgx.Rows) ([]*models.AutomationRule, error) {
	defer rows.Close()

	rules := []*models.AutomationRule{}
	for rows.Next() {
		r, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) CreateAutomation(ctx context.Context, rule *models.AutomationRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automations (id, user_id, name, trigger, action, action_type, target, message, schedule, enabled,
		   last_run_status, retry_attempts, retry_base_delay, retry_jitter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rule.ID, rule.UserID, rule.Name, rule.Trigger, rule.Action, rule.ActionType, rule.Target,
		rule.Message, rule.Schedule, rule.Enabled, rule.LastRunStatus,
		rule.RetryAttempts, rule.RetryBaseDelay, rule.RetryJitter, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create automation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAutomation(ctx context.Context, userID string, id uuid.UUID) (*models.AutomationRule, error) {
	r, err := scanAutomation(s.pool.QueryRow(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get automation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListAutomations(ctx context.Context, userID string) ([]*models.AutomationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	return collectAutomations(rows)
}

// ListInFlightAutomations returns rules of every user whose last run is still
// queued or started at the backend.
func (s *PostgresStore) ListInFlightAutomations(ctx context.Context) ([]*models.AutomationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+automationColumns+` FROM automations
		 WHERE last_run_job_id IS NOT NULL AND last_run_status IN ($1, $2)`,
		models.RunStatusQueued, models.RunStatusStarted)
	if err != nil {
		return nil, fmt.Errorf("list in-flight automations: %w", err)
	}
	return collectAutomations(rows)
}

func (s *PostgresStore) UpdateAutomation(ctx context.Context, rule *models.AutomationRule) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automations SET name = $3, trigger = $4, action = $5, action_type = $6, target = $7,
		   message = $8, schedule = $9, updated_at = $10
		 WHERE id = $1 AND user_id = $2`,
		rule.ID, rule.UserID, rule.Name, rule.Trigger, rule.Action, rule.ActionType,
		rule.Target, rule.Message, rule.Schedule, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update automation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetAutomationEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automations SET enabled = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, userID, enabled)
	if err != nil {
		return fmt.Errorf("set automation enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, userID string, id uuid.UUID, status string, opts ...RunUpdateOption) error {
	params := &runUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE automations SET last_run_status = $3, updated_at = $4`
	args := []any{id, userID, status, time.Now().UTC()}
	argIdx := 5

	if params.RunAt != nil {
		query += fmt.Sprintf(", last_run_at = $%d", argIdx)
		args = append(args, *params.RunAt)
		argIdx++
	}
	if params.SetJobID {
		query += fmt.Sprintf(", last_run_job_id = $%d", argIdx)
		args = append(args, params.JobID)
		argIdx++
	}
	if params.SetRunError {
		query += fmt.Sprintf(", last_run_error = $%d", argIdx)
		args = append(args, params.RunError)
		argIdx++
	}

	query += " WHERE id = $1 AND user_id = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRetryOverride(ctx context.Context, userID string, id uuid.UUID, override RetryOverride) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automations SET retry_attempts = $3, retry_base_delay = $4, retry_jitter = $5, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, override.Attempts, override.BaseDelay, override.Jitter)
	if err != nil {
		return fmt.Errorf("update retry override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAutomation(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM automations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Retry settings ---

func (s *PostgresStore) GetRetrySettings(ctx context.Context, userID string) (*models.RetrySettings, error) {
	var rs models.RetrySettings
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, attempts, base_delay, jitter, updated_at FROM automation_settings WHERE user_id = $1`,
		userID,
	).Scan(&rs.UserID, &rs.Policy.Attempts, &rs.Policy.BaseDelay, &rs.Policy.Jitter, &rs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retry settings: %w", err)
	}
	return &rs, nil
}

// SaveRetrySettings overwrites the user's policy, creating it on first save.
func (s *PostgresStore) SaveRetrySettings(ctx context.Context, settings *models.RetrySettings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automation_settings (user_id, attempts, base_delay, jitter, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   attempts = EXCLUDED.attempts,
		   base_delay = EXCLUDED.base_delay,
		   jitter = EXCLUDED.jitter,
		   updated_at = EXCLUDED.updated_at`,
		settings.UserID, settings.Policy.Attempts, settings.Policy.BaseDelay, settings.Policy.Jitter,
		settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save retry settings: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
