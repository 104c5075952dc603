// Package syncqueue drains persisted sync jobs against the remote.
//
// Enqueue persists a job and posts a wakeup token. Drain tasks run on a
// bounded pool; each task takes one token per pass and keeps claiming the
// oldest unclaimed job until none is left, then tries to take another
// token. A task only exits after observing zero tokens under the same lock
// Notify posts them under, so a wakeup is never lost.
package syncqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

type Stats struct {
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	InFlight        int   `json:"in_flight"`
	Workers         int   `json:"workers"`
	MaxFailureCount int   `json:"max_failure_count"`
	Attempts        int64 `json:"attempts"`
	Successes       int64 `json:"successes"`
	Retries         int64 `json:"retries"`
	Drops           int64 `json:"drops"`
	Cleanups        int64 `json:"cleanups"`
	Stopped         bool  `json:"stopped"`
}

type Dispatcher struct {
	log      zerolog.Logger
	repo     domain.SyncJobRepo
	registry *Registry
	bus      EventBus.Bus
	now      func() time.Time

	maxFailureCount atomic.Int64
	workers         int64
	pool            *semaphore.Weighted

	// base context for drain tasks, cancelled when Stop gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending int
	running int
	stopped bool
	wg      sync.WaitGroup

	claimMu  sync.Mutex
	inFlight map[int64]struct{}

	attempts  atomic.Int64
	successes atomic.Int64
	retries   atomic.Int64
	drops     atomic.Int64
	cleanups  atomic.Int64
}

func New(log logger.Logger, repo domain.SyncJobRepo, registry *Registry, bus EventBus.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:      log.With().Str("module", "syncqueue").Logger(),
		repo:     repo,
		registry: registry,
		bus:      bus,
		inFlight: make(map[int64]struct{}),
	}

	for _, opt := range append(defaultOptions(), opts...) {
		opt(d)
	}

	d.pool = semaphore.NewWeighted(d.workers)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d
}

// Start posts one wakeup so jobs persisted by a previous run are drained.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return domain.ErrDispatcherStopped
	}

	count, err := d.repo.Count(ctx)
	if err != nil {
		return errors.Wrap(err, "could not count pending sync jobs")
	}

	d.log.Info().
		Int("pending_jobs", count).
		Int64("workers", d.workers).
		Int("max_failure_count", d.MaxFailureCount()).
		Msg("Starting sync dispatcher")

	d.Notify()

	return nil
}

// Enqueue persists a new job for the entity and wakes the drain pool. It
// never waits on the remote.
func (d *Dispatcher) Enqueue(ctx context.Context, entityType domain.EntityType, entityID string) error {
	if entityType == "" {
		return domain.ErrInvalidEntityType
	}
	if entityID == "" {
		return domain.ErrInvalidEntityID
	}

	if d.isStopped() {
		return domain.ErrDispatcherStopped
	}

	job := &domain.SyncJob{
		EntityType:   entityType,
		EntityID:     entityID,
		CreatedAt:    d.now(),
		FailureCount: 0,
	}

	if err := d.repo.Create(ctx, job); err != nil {
		return errors.Wrapf(err, "could not enqueue %s %s", entityType, entityID)
	}

	d.log.Debug().Int64("job_id", job.ID).Str("entity_type", entityType.String()).Str("entity_id", entityID).Msg("sync job enqueued")

	d.Notify()

	return nil
}

// Notify posts a wakeup token and starts a drain task if the pool has room.
// When the pool is full a running task absorbs the token.
func (d *Dispatcher) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending++

	if !d.pool.TryAcquire(1) {
		return
	}

	d.running++
	d.wg.Add(1)
	go d.drain()
}

// Stop refuses new work and waits for running drain tasks to finish the
// tokens they hold. If ctx expires first, drain tasks stop claiming jobs
// and Stop returns the context error; attempts already in flight still
// complete in the background.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.log.Info().Msg("Sync dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.log.Warn().Err(ctx.Err()).Msg("Sync dispatcher stop timed out")
		return errors.Wrap(ctx.Err(), "sync dispatcher did not drain in time")
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending, running, stopped := d.pending, d.running, d.stopped
	d.mu.Unlock()

	d.claimMu.Lock()
	inFlight := len(d.inFlight)
	d.claimMu.Unlock()

	return Stats{
		Pending:         pending,
		Running:         running,
		InFlight:        inFlight,
		Workers:         int(d.workers),
		MaxFailureCount: d.MaxFailureCount(),
		Attempts:        d.attempts.Load(),
		Successes:       d.successes.Load(),
		Retries:         d.retries.Load(),
		Drops:           d.drops.Load(),
		Cleanups:        d.cleanups.Load(),
		Stopped:         stopped,
	}
}

func (d *Dispatcher) MaxFailureCount() int {
	return int(d.maxFailureCount.Load())
}

// SetMaxFailureCount changes the retry budget for subsequent attempts.
func (d *Dispatcher) SetMaxFailureCount(n int) {
	if n < 0 {
		return
	}

	d.maxFailureCount.Store(int64(n))
	d.log.Info().Int("max_failure_count", n).Msg("sync retry budget updated")
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stopped
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()

	for d.takePendingToken() {
		d.pass()
	}
}

// takePendingToken consumes one wakeup token. When none is left it releases
// the caller's pool slot and returns false.
func (d *Dispatcher) takePendingToken() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending > 0 && d.ctx.Err() == nil {
		d.pending--
		return true
	}

	d.running--
	d.pool.Release(1)

	return false
}

// pass attempts claimable jobs oldest first until none is left.
func (d *Dispatcher) pass() {
	for {
		job := d.claimOldest()
		if job == nil {
			return
		}

		d.attempt(job)
	}
}

// claimOldest selects the oldest job no other task holds and marks it in
// flight. Selection and marking happen under one lock.
func (d *Dispatcher) claimOldest() *domain.SyncJob {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	if d.ctx.Err() != nil {
		return nil
	}

	exclude := make([]int64, 0, len(d.inFlight))
	for id := range d.inFlight {
		exclude = append(exclude, id)
	}

	job, err := d.repo.Oldest(d.ctx, exclude)
	if err != nil {
		d.log.Error().Err(err).Msg("could not select next sync job")
		return nil
	}

	if job == nil {
		return nil
	}

	d.inFlight[job.ID] = struct{}{}

	return job
}

func (d *Dispatcher) release(id int64) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	delete(d.inFlight, id)
}

// attempt runs one push or pull for job and applies the result. The remote
// call is not cancelled by Stop.
func (d *Dispatcher) attempt(job *domain.SyncJob) {
	defer d.release(job.ID)

	ctx := context.WithoutCancel(d.ctx)

	d.attempts.Add(1)

	entity, err := d.registry.Resolve(ctx, job.EntityType, job.EntityID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEntityNotFound):
			d.finish(ctx, job, nil, domain.OutcomeSuccess, ActionCleanup, err)
		case errors.Is(err, domain.ErrUnknownEntityType):
			d.finish(ctx, job, nil, domain.OutcomeCritical, ActionDrop, err)
		default:
			// local read error; spend a retry
			action := Decide(job.FailureCount, domain.OutcomeFailure, d.MaxFailureCount())
			d.finish(ctx, job, nil, domain.OutcomeFailure, action, err)
		}
		return
	}

	var outcome domain.Outcome
	if ShouldPush(entity.UpdatedAt(), entity.LastSyncedAt()) {
		outcome = entity.Push(ctx)
	} else {
		outcome = entity.Pull(ctx)
	}

	d.finish(ctx, job, entity, outcome, Decide(job.FailureCount, outcome, d.MaxFailureCount()), nil)
}

func (d *Dispatcher) finish(ctx context.Context, job *domain.SyncJob, entity domain.Syncable, outcome domain.Outcome, action Action, cause error) {
	if action == ActionComplete {
		if err := entity.MarkSynced(ctx, d.now()); err != nil {
			// remote is reconciled but the marker is not; run it again
			cause = errors.Wrap(err, "could not mark entity synced")
			outcome = domain.OutcomeFailure
			action = Decide(job.FailureCount, outcome, d.MaxFailureCount())
		}
	}

	switch action {
	case ActionRetry:
		job.FailureCount++
		if err := d.repo.Save(ctx, job); err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			d.log.Error().Err(err).Int64("job_id", job.ID).Msg("could not save sync job")
		}
		d.retries.Add(1)
	default:
		if err := d.repo.Destroy(ctx, job.ID); err != nil {
			d.log.Error().Err(err).Int64("job_id", job.ID).Msg("could not destroy sync job")
		}
		switch action {
		case ActionComplete:
			d.successes.Add(1)
		case ActionCleanup:
			d.cleanups.Add(1)
		default:
			d.drops.Add(1)
		}
	}

	d.report(job, outcome, action, cause)
}

func (d *Dispatcher) report(job *domain.SyncJob, outcome domain.Outcome, action Action, cause error) {
	var evt *zerolog.Event
	switch action {
	case ActionComplete:
		evt = d.log.Debug()
	case ActionRetry, ActionCleanup:
		evt = d.log.Info()
	default:
		evt = d.log.Warn()
	}

	evt.Err(cause).
		Int64("job_id", job.ID).
		Str("entity_type", job.EntityType.String()).
		Str("entity_id", job.EntityID).
		Str("outcome", outcome.String()).
		Int("failure_count", job.FailureCount).
		Msgf("sync job %s", action)

	if d.bus == nil {
		return
	}

	d.bus.Publish(domain.EventSyncOutcome, &domain.SyncOutcomeEvent{
		JobID:        job.ID,
		EntityType:   job.EntityType,
		EntityID:     job.EntityID,
		Outcome:      outcome,
		Action:       action.String(),
		FailureCount: job.FailureCount,
		Err:          cause,
		Timestamp:    d.now(),
	})
}
