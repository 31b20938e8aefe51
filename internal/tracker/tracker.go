// Package tracker triggers automation runs on the backend and follows each
// resulting job until it reaches a terminal status, times out, or fails.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modofreelanceos/automations/internal/backend"
	"github.com/modofreelanceos/automations/internal/cache"
	"github.com/modofreelanceos/automations/internal/retry"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/pkg/models"
)

const (
	DefaultPollInterval = 3000 * time.Millisecond
	DefaultMaxAttempts  = 20

	pollErrorMessage = "Error consultando el estado del job."
	runStatusTTL     = 30 * time.Minute
	stepTimeout      = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// RunStore is the subset of store.Store the tracker writes through.
type RunStore interface {
	UpdateRunState(ctx context.Context, userID string, id uuid.UUID, status string, opts ...store.RunUpdateOption) error
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithRegistry(r PollRegistry) Option {
	return func(t *Tracker) { t.registry = r }
}

func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

func WithMaxAttempts(n int) Option {
	return func(t *Tracker) { t.maxAttempts = n }
}

// WithCache mirrors every observed backend status into the cache.
func WithCache(c cache.Cache) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithStepTimeout bounds each job status request.
func WithStepTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.stepTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// loop is one poll sequence for a job on behalf of a rule.
type loop struct {
	lease  Lease
	userID string
	ruleID uuid.UUID
}

type pendingTimer struct {
	gen   uint64
	timer *time.Timer
}

// Tracker owns the poll registry and the timers driving each poll loop.
type Tracker struct {
	backend     backend.Client
	store       RunStore
	cache       cache.Cache
	registry    PollRegistry
	interval    time.Duration
	maxAttempts int
	stepTimeout time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]pendingTimer
	closed bool
	steps  sync.WaitGroup
}

// New creates a Tracker. Unless overridden it polls every 3s, gives up after
// 20 non-terminal polls and keeps its registry in memory.
func New(bc backend.Client, rs RunStore, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		backend:     bc,
		store:       rs,
		registry:    NewMemoryRegistry(),
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		stepTimeout: stepTimeout,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[string]pendingTimer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RunNow asks the backend to run rule with its effective retry policy and
// records the outcome on the rule, in the store and on the passed struct.
// Backend failures are recorded as an error status, not returned; only a
// failed store write is. Once the backend has answered, the outcome is
// recorded even if ctx is cancelled. Callers decide whether a disabled rule
// may run.
func (t *Tracker) RunNow(ctx context.Context, rule *models.AutomationRule, defaults models.RetryPolicy) error {
	policy := retry.Effective(rule, defaults)
	req := backend.RunRequest{
		UserID:         rule.UserID,
		AutomationID:   rule.ID.String(),
		Name:           rule.Name,
		Trigger:        rule.Trigger,
		Action:         rule.Action,
		ActionType:     rule.ActionType,
		Target:         rule.Target,
		Message:        rule.Message,
		Schedule:       rule.Schedule,
		RetryAttempts:  policy.Attempts,
		RetryBaseDelay: policy.BaseDelay,
		RetryJitter:    policy.Jitter,
	}

	startedAt := t.now().UTC()
	resp, err := t.backend.RunAutomation(ctx, rule.UserID, req)

	// A job the backend accepted must not be lost to a dropped client.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err != nil {
		slog.Warn("automation run rejected", "rule_id", rule.ID, "error", err)
		return t.record(ctx, rule, models.RunStatusError,
			store.WithRunAt(startedAt), store.WithRunError(backend.Message(err)))
	}

	status := models.RunStatusQueued
	if resp.Status != nil && *resp.Status != "" {
		status = *resp.Status
	}
	var jobID string
	if resp.JobID != nil {
		jobID = *resp.JobID
	}

	previous := rule.LastRunJobID
	opts := []store.RunUpdateOption{store.WithRunAt(startedAt), store.ClearRunError()}
	if jobID != "" {
		opts = append(opts, store.WithJobID(jobID))
	} else {
		opts = append(opts, store.ClearJobID())
	}
	if err := t.record(ctx, rule, status, opts...); err != nil {
		return err
	}

	if previous != nil && *previous != jobID {
		t.stopJob(*previous)
	}
	if jobID != "" {
		t.track(rule.UserID, rule.ID, jobID)
	}
	return nil
}

func (t *Tracker) record(ctx context.Context, rule *models.AutomationRule, status string, opts ...store.RunUpdateOption) error {
	if err := t.store.UpdateRunState(ctx, rule.UserID, rule.ID, status, opts...); err != nil {
		return fmt.Errorf("recording run state: %w", err)
	}
	store.ApplyRunUpdate(rule, status, opts...)
	return nil
}

// Reconcile starts a poll loop for every in-flight rule that has none and
// returns how many were started. Running it again is a no-op.
func (t *Tracker) Reconcile(rules []*models.AutomationRule) int {
	started := 0
	for _, r := range rules {
		if !r.InFlight() {
			continue
		}
		if t.track(r.UserID, r.ID, *r.LastRunJobID) {
			started++
		}
	}
	return started
}

// Forget stops following the rule's last job. Any poll already in progress
// finishes without writing.
func (t *Tracker) Forget(rule *models.AutomationRule) {
	if rule.LastRunJobID == nil || *rule.LastRunJobID == "" {
		return
	}
	t.stopJob(*rule.LastRunJobID)
}

// Polling reports whether a poll loop is active for jobID.
func (t *Tracker) Polling(jobID string) bool {
	return t.registry.IsActive(jobID)
}

// JobStatus returns the last backend status seen for jobID, empty when none
// is cached, and whether a loop is still following the job.
func (t *Tracker) JobStatus(ctx context.Context, jobID string) (string, bool) {
	polling := t.Polling(jobID)
	if t.cache == nil {
		return "", polling
	}
	status, ok, err := t.cache.GetRunStatus(ctx, jobID)
	if err != nil {
		slog.Debug("reading cached job status", "job_id", jobID, "error", err)
		return "", polling
	}
	if !ok {
		return "", polling
	}
	return status, polling
}

// Close stops every loop and waits for polls in progress to return.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for jobID, pt := range t.timers {
		pt.timer.Stop()
		delete(t.timers, jobID)
	}
	t.mu.Unlock()

	// Reset first so a GET failing on the cancelled context cannot win its
	// lease and record an error.
	t.registry.Reset()
	t.cancel()
	t.steps.Wait()
}

func (t *Tracker) stopJob(jobID string) {
	t.registry.Cancel(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if pt, ok := t.timers[jobID]; ok {
		pt.timer.Stop()
		delete(t.timers, jobID)
	}
}

// track registers a loop for jobID and schedules its first poll right away.
func (t *Tracker) track(userID string, ruleID uuid.UUID, jobID string) bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}

	lease, ok := t.registry.Start(jobID)
	if !ok {
		return false
	}
	slog.Debug("polling job", "rule_id", ruleID, "job_id", jobID)
	t.schedule(loop{lease: lease, userID: userID, ruleID: ruleID}, 0)
	return true
}

func (t *Tracker) schedule(l loop, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	timer := time.AfterFunc(delay, func() { t.poll(l) })
	t.timers[l.lease.JobID] = pendingTimer{gen: l.lease.Gen, timer: timer}
}

func (t *Tracker) clearTimer(l loop) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pt, ok := t.timers[l.lease.JobID]; ok && pt.gen == l.lease.Gen {
		delete(t.timers, l.lease.JobID)
	}
}

// poll runs one step of a loop: fetch the job, then finish or reschedule.
func (t *Tracker) poll(l loop) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.steps.Add(1)
	t.mu.Unlock()
	defer t.steps.Done()

	if !t.registry.Holds(l.lease) {
		return
	}

	getCtx, cancelGet := context.WithTimeout(t.ctx, t.stepTimeout)
	job, err := t.backend.GetJob(getCtx, l.userID, l.lease.JobID)
	cancelGet()

	// Writes get their own deadline so a GET that used up the step timeout
	// can still record its outcome. Close is guarded by the lease, not ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), writeTimeout)
	defer cancel()

	if err != nil {
		if !t.finish(l) {
			return
		}
		slog.Warn("job status poll failed", "rule_id", l.ruleID, "job_id", l.lease.JobID, "error", err)
		t.write(ctx, l, models.RunStatusError, store.WithRunError(pollErrorMessage))
		return
	}

	if t.cache != nil {
		if err := t.cache.SetRunStatus(ctx, l.lease.JobID, job.Status, runStatusTTL); err != nil {
			slog.Debug("caching job status", "job_id", l.lease.JobID, "error", err)
		}
	}

	if IsTerminal(job.Status) {
		if !t.finish(l) {
			return
		}
		opt := store.ClearRunError()
		if job.Result != nil && job.Result.Error != nil {
			opt = store.WithRunError(*job.Result.Error)
		}
		t.write(ctx, l, ResolveStatus(job), opt)
		return
	}

	attempt, ok := t.registry.Advance(l.lease)
	if !ok {
		return
	}
	if attempt >= t.maxAttempts {
		if !t.finish(l) {
			return
		}
		slog.Info("job polling timed out", "rule_id", l.ruleID, "job_id", l.lease.JobID, "attempt", attempt)
		t.write(ctx, l, models.RunStatusTimeout)
		return
	}
	t.schedule(l, t.interval)
}

// finish ends the loop if it still holds its lease. A false return means the
// loop was cancelled and must not write.
func (t *Tracker) finish(l loop) bool {
	if !t.registry.Stop(l.lease) {
		return false
	}
	t.clearTimer(l)
	return true
}

func (t *Tracker) write(ctx context.Context, l loop, status string, opts ...store.RunUpdateOption) {
	err := t.store.UpdateRunState(ctx, l.userID, l.ruleID, status, opts...)
	switch {
	case err == nil:
		slog.Info("job resolved", "rule_id", l.ruleID, "job_id", l.lease.JobID, "status", status)
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("rule gone before job resolved", "rule_id", l.ruleID, "job_id", l.lease.JobID)
	default:
		slog.Error("recording job status", "rule_id", l.ruleID, "job_id", l.lease.JobID, "error", err)
	}
}
