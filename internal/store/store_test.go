package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("automations_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRule(userID, name string) *models.AutomationRule {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.AutomationRule{
		ID:            uuid.New(),
		UserID:        userID,
		Name:          name,
		Trigger:       "Cada lunes",
		Action:        "Enviar email",
		ActionType:    models.ActionTypeEmail,
		Schedule:      models.DefaultSchedule,
		Enabled:       true,
		LastRunStatus: models.RunStatusNever,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// --- Automation Tests ---

func TestAutomation_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	rule := newRule("user-1", "Recordatorio")
	target := "clientes"
	rule.Target = &target
	require.NoError(t, s.CreateAutomation(ctx, rule))

	got, err := s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recordatorio", got.Name)
	assert.Equal(t, models.RunStatusNever, got.LastRunStatus)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.Target)
	assert.Equal(t, "clientes", *got.Target)
	assert.Nil(t, got.Message)
	assert.Nil(t, got.LastRunAt)
	assert.False(t, got.HasRetryOverride())
}

func TestAutomation_GetScopedByUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	rule := newRule("user-1", "private")
	require.NoError(t, s.CreateAutomation(ctx, rule))

	_, err := s.GetAutomation(ctx, "user-2", rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAutomation_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	older := newRule("user-1", "older")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newRule("user-1", "newer")
	other := newRule("user-2", "someone else")
	for _, r := range []*models.AutomationRule{older, newer, other} {
		require.NoError(t, s.CreateAutomation(ctx, r))
	}

	rules, err := s.ListAutomations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "newer", rules[0].Name)
	assert.Equal(t, "older", rules[1].Name)

	empty, err := s.ListAutomations(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAutomation_UpdateRunState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	rule := newRule("user-1", "run me")
	require.NoError(t, s.CreateAutomation(ctx, rule))

	runAt := time.Now().UTC().Truncate(time.Microsecond)
	err := s.UpdateRunState(ctx, "user-1", rule.ID, models.RunStatusQueued,
		store.WithRunAt(runAt), store.WithJobID("abc123"), store.ClearRunError())
	require.NoError(t, err)

	got, err := s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, got.LastRunStatus)
	require.NotNil(t, got.LastRunJobID)
	assert.Equal(t, "abc123", *got.LastRunJobID)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, runAt.Equal(*got.LastRunAt))
	assert.Nil(t, got.LastRunError)

	// Status-only update keeps the job id for audit.
	err = s.UpdateRunState(ctx, "user-1", rule.ID, models.RunStatusOK, store.ClearRunError())
	require.NoError(t, err)
	got, err = s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, got.LastRunStatus)
	require.NotNil(t, got.LastRunJobID)
	assert.Equal(t, "abc123", *got.LastRunJobID)

	err = s.UpdateRunState(ctx, "user-1", rule.ID, models.RunStatusError, store.WithRunError("boom"))
	require.NoError(t, err)
	got, err = s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunError)
	assert.Equal(t, "boom", *got.LastRunError)
}

func TestAutomation_UpdateRunState_Deleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.UpdateRunState(context.Background(), "user-1", uuid.New(), models.RunStatusOK)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAutomation_ListInFlight(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	queued := newRule("user-1", "queued")
	started := newRule("user-2", "started")
	done := newRule("user-1", "done")
	noJob := newRule("user-1", "queued without job")
	for _, r := range []*models.AutomationRule{queued, started, done, noJob} {
		require.NoError(t, s.CreateAutomation(ctx, r))
	}
	require.NoError(t, s.UpdateRunState(ctx, "user-1", queued.ID, models.RunStatusQueued, store.WithJobID("j1")))
	require.NoError(t, s.UpdateRunState(ctx, "user-2", started.ID, models.RunStatusStarted, store.WithJobID("j2")))
	require.NoError(t, s.UpdateRunState(ctx, "user-1", done.ID, models.RunStatusOK, store.WithJobID("j3")))
	require.NoError(t, s.UpdateRunState(ctx, "user-1", noJob.ID, models.RunStatusQueued))

	rules, err := s.ListInFlightAutomations(ctx)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, r := range rules {
		ids[r.ID] = true
	}
	assert.Len(t, rules, 2)
	assert.True(t, ids[queued.ID])
	assert.True(t, ids[started.ID])
}

func TestAutomation_UpdateEnableOverrideDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	rule := newRule("user-1", "before")
	require.NoError(t, s.CreateAutomation(ctx, rule))

	rule.Name = "after"
	rule.ActionType = models.ActionTypeWhatsApp
	require.NoError(t, s.UpdateAutomation(ctx, rule))
	require.NoError(t, s.SetAutomationEnabled(ctx, "user-1", rule.ID, false))

	attempts, delay, jitter := 5, 2.0, 0.0
	require.NoError(t, s.UpdateRetryOverride(ctx, "user-1", rule.ID, store.RetryOverride{
		Attempts: &attempts, BaseDelay: &delay, Jitter: &jitter,
	}))

	got, err := s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, models.ActionTypeWhatsApp, got.ActionType)
	assert.False(t, got.Enabled)
	require.True(t, got.HasRetryOverride())
	assert.Equal(t, 5, *got.RetryAttempts)
	assert.Equal(t, 0.0, *got.RetryJitter)

	require.NoError(t, s.UpdateRetryOverride(ctx, "user-1", rule.ID, store.RetryOverride{}))
	got, err = s.GetAutomation(ctx, "user-1", rule.ID)
	require.NoError(t, err)
	assert.False(t, got.HasRetryOverride())

	require.NoError(t, s.DeleteAutomation(ctx, "user-1", rule.ID))
	_, err = s.GetAutomation(ctx, "user-1", rule.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAutomation(ctx, "user-1", rule.ID), store.ErrNotFound)
}

// --- Retry Settings Tests ---

func TestRetrySettings_NotFoundThenUpsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	_, err := s.GetRetrySettings(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveRetrySettings(ctx, &models.RetrySettings{
		UserID: "user-1",
		Policy: models.RetryPolicy{Attempts: 4, BaseDelay: 1, Jitter: 0.5},
	}))
	require.NoError(t, s.SaveRetrySettings(ctx, &models.RetrySettings{
		UserID: "user-1",
		Policy: models.RetryPolicy{Attempts: 7, BaseDelay: 2.5, Jitter: 0},
	}))

	got, err := s.GetRetrySettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.RetryPolicy{Attempts: 7, BaseDelay: 2.5, Jitter: 0}, got.Policy)
	assert.False(t, got.UpdatedAt.IsZero())
}

// --- API Key Tests ---

func TestAPIKey_CreateListRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    "user-1",
		Name:      "zapier",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "mfo_abcd",
		Scopes:    []string{"automations"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "mfo_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"automations"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	listed, err := s.ListAPIKeys(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotNil(t, listed[0].LastUsedAt)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, "user-1"))
	keys, err = s.GetAPIKeyByPrefix(ctx, "mfo_abcd")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, "user-1"), store.ErrNotFound)
}

func TestAPIKey_DuplicateHash(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func() *models.APIKey {
		return &models.APIKey{ID: uuid.New(), UserID: "u", Name: "k", KeyHash: "same-hash",
			KeyPrefix: "mfo_dupe", Scopes: []string{}, CreatedAt: now, UpdatedAt: now}
	}
	require.NoError(t, s.CreateAPIKey(ctx, mk()))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, mk()), store.ErrDuplicateKey)
}

// --- ApplyRunUpdate ---

func TestApplyRunUpdate(t *testing.T) {
	rule := newRule("u", "r")
	errMsg := "old"
	rule.LastRunError = &errMsg
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	store.ApplyRunUpdate(rule, models.RunStatusQueued, store.WithRunAt(at), store.WithJobID("j"), store.ClearRunError())

	assert.Equal(t, models.RunStatusQueued, rule.LastRunStatus)
	require.NotNil(t, rule.LastRunAt)
	assert.Equal(t, at, *rule.LastRunAt)
	require.NotNil(t, rule.LastRunJobID)
	assert.Equal(t, "j", *rule.LastRunJobID)
	assert.Nil(t, rule.LastRunError)

	store.ApplyRunUpdate(rule, models.RunStatusTimeout)
	assert.Equal(t, "j", *rule.LastRunJobID)
	assert.Equal(t, at, *rule.LastRunAt)
}
