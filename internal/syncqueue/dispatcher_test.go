package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flurbudurbur/nanosync/internal/callbacks"
	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(repo domain.SyncJobRepo, store *entityStore, opts ...Option) *Dispatcher {
	registry := NewRegistry()
	registry.Register(domain.EntityTypeNote, store.resolve)

	return New(logger.Mock(), repo, registry, nil, opts...)
}

func TestDispatcher_EndToEndPush(t *testing.T) {
	repo := newMemRepo()
	entity := newFakeEntity("a")
	syncedAt := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)

	d := newTestDispatcher(repo, newEntityStore(entity), WithClock(func() time.Time { return syncedAt }))

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
	stopDispatcher(t, d)

	pushes, pulls := entity.calls()
	assert.Equal(t, 1, pushes)
	assert.Equal(t, 0, pulls)

	require.NotNil(t, entity.LastSyncedAt())
	assert.True(t, entity.LastSyncedAt().Equal(syncedAt))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Running)
	assert.True(t, stats.Stopped)
}

func TestDispatcher_SuccessDoesNotReEnqueue(t *testing.T) {
	repo := newMemRepo()
	entity := newFakeEntity("a")
	store := newEntityStore(entity)
	d := newTestDispatcher(repo, store)

	enqueued := 0
	entity.hooks.After(callbacks.OpSave, func(ctx context.Context, e *fakeEntity) error {
		enqueued++
		return d.Enqueue(ctx, domain.EntityTypeNote, e.id)
	})

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
	stopDispatcher(t, d)

	assert.Zero(t, enqueued, "writing the sync marker must not run the after-save hook")

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	pushes, _ := entity.calls()
	assert.Equal(t, 1, pushes)
}

func TestDispatcher_BoundedRetry(t *testing.T) {
	for _, limit := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			repo := newMemRepo()
			entity := newFakeEntity("a", domain.OutcomeFailure)
			d := newTestDispatcher(repo, newEntityStore(entity), WithMaxFailureCount(limit))

			require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
			stopDispatcher(t, d)

			pushes, pulls := entity.calls()
			assert.Equal(t, limit+1, pushes+pulls)
			assert.Nil(t, entity.LastSyncedAt())

			count, err := repo.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count)

			stats := d.Stats()
			assert.Equal(t, int64(limit), stats.Retries)
			assert.Equal(t, int64(1), stats.Drops)
		})
	}
}

func TestDispatcher_RetryThenSuccess(t *testing.T) {
	repo := newMemRepo()
	entity := newFakeEntity("a", domain.OutcomeFailure, domain.OutcomeFailure, domain.OutcomeSuccess)
	d := newTestDispatcher(repo, newEntityStore(entity), WithMaxFailureCount(5))

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
	stopDispatcher(t, d)

	pushes, _ := entity.calls()
	assert.Equal(t, 3, pushes)
	assert.NotNil(t, entity.LastSyncedAt())
	assert.Equal(t, int64(1), d.Stats().Successes)
	assert.Equal(t, int64(2), d.Stats().Retries)
}

func TestDispatcher_CriticalDropsImmediately(t *testing.T) {
	repo := newMemRepo()
	entity := newFakeEntity("a", domain.OutcomeCritical)
	d := newTestDispatcher(repo, newEntityStore(entity), WithMaxFailureCount(5))

	// budget left over from a previous run does not matter
	repo.add(t, domain.EntityTypeNote, "a", time.Now(), 2)

	require.NoError(t, d.Start(context.Background()))
	stopDispatcher(t, d)

	pushes, pulls := entity.calls()
	assert.Equal(t, 1, pushes+pulls)
	assert.Nil(t, entity.LastSyncedAt())

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), d.Stats().Drops)
	assert.Zero(t, d.Stats().Retries)
}

func TestDispatcher_FIFOWithinPass(t *testing.T) {
	repo := newMemRepo()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(e *fakeEntity) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, e.id)
	}

	store := newEntityStore()
	for _, id := range []string{"t1", "t2", "t3"} {
		e := newFakeEntity(id)
		e.onCall = record
		store.put(e)
	}

	base := time.Now()
	repo.add(t, domain.EntityTypeNote, "t3", base.Add(2*time.Second), 0)
	repo.add(t, domain.EntityTypeNote, "t1", base, 0)
	repo.add(t, domain.EntityTypeNote, "t2", base.Add(time.Second), 0)

	d := newTestDispatcher(repo, store, WithWorkers(1))
	require.NoError(t, d.Start(context.Background()))
	stopDispatcher(t, d)

	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}

func TestDispatcher_Direction(t *testing.T) {
	updated := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	before := updated.Add(-time.Minute)
	after := updated.Add(time.Minute)

	tests := []struct {
		name       string
		lastSynced *time.Time
		wantPush   bool
	}{
		{"never synced", nil, true},
		{"changed since last sync", &before, true},
		{"synced at update time", &updated, false},
		{"synced after update", &after, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			entity := newFakeEntity("a")
			entity.updatedAt = updated
			entity.lastSynced = tt.lastSynced

			d := newTestDispatcher(repo, newEntityStore(entity))
			require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
			stopDispatcher(t, d)

			pushes, pulls := entity.calls()
			if tt.wantPush {
				assert.Equal(t, 1, pushes)
				assert.Equal(t, 0, pulls)
			} else {
				assert.Equal(t, 0, pushes)
				assert.Equal(t, 1, pulls)
			}
		})
	}
}

func TestDispatcher_NoLostWakeup(t *testing.T) {
	const n = 50

	repo := newMemRepo()
	store := newEntityStore()

	started := make(chan struct{})
	release := make(chan struct{})
	blocker := newFakeEntity("blocker")
	blocker.onCall = func(*fakeEntity) {
		close(started)
		<-release
	}
	store.put(blocker)

	entities := make([]*fakeEntity, n)
	for i := range entities {
		entities[i] = newFakeEntity(fmt.Sprintf("e%d", i))
		store.put(entities[i])
	}

	d := newTestDispatcher(repo, store, WithWorkers(1))

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "blocker"))
	<-started

	var wg sync.WaitGroup
	for _, e := range entities {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, id))
		}(e.id)
	}
	wg.Wait()

	assert.Equal(t, 1, d.Stats().Running, "a full pool absorbs wakeups instead of starting tasks")

	close(release)
	stopDispatcher(t, d)

	for _, e := range entities {
		pushes, _ := e.calls()
		assert.Equal(t, 1, pushes, e.id)
	}

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatcher_ExclusiveClaim(t *testing.T) {
	const n = 40

	repo := newMemRepo()
	store := newEntityStore()

	var (
		mu       sync.Mutex
		active   = map[string]int{}
		overlap  bool
		running  int
		peakLoad int
	)
	track := func(e *fakeEntity) {
		mu.Lock()
		active[e.id]++
		if active[e.id] > 1 {
			overlap = true
		}
		running++
		if running > peakLoad {
			peakLoad = running
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		active[e.id]--
		running--
		mu.Unlock()
	}

	entities := make([]*fakeEntity, n)
	base := time.Now()
	for i := range entities {
		entities[i] = newFakeEntity(fmt.Sprintf("e%d", i))
		entities[i].onCall = track
		store.put(entities[i])
		repo.add(t, domain.EntityTypeNote, entities[i].id, base.Add(time.Duration(i)*time.Millisecond), 0)
	}

	d := newTestDispatcher(repo, store, WithWorkers(4))
	require.NoError(t, d.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Notify()
		}()
	}
	wg.Wait()

	stopDispatcher(t, d)

	assert.False(t, overlap, "a job was attempted by two tasks at once")
	assert.LessOrEqual(t, peakLoad, 4)

	for _, e := range entities {
		pushes, _ := e.calls()
		assert.Equal(t, 1, pushes, e.id)
	}
	assert.Equal(t, int64(n), d.Stats().Attempts)
}

func TestDispatcher_MissingEntityIsCleanedUp(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, newEntityStore())

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "gone"))
	stopDispatcher(t, d)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), d.Stats().Cleanups)
	assert.Zero(t, d.Stats().Drops)
}

func TestDispatcher_UnknownEntityTypeIsDropped(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, newEntityStore())

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityType("bookmark"), "b1"))
	stopDispatcher(t, d)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), d.Stats().Drops)
}

func TestDispatcher_MarkSyncedErrorSpendsRetry(t *testing.T) {
	repo := newMemRepo()
	entity := newFakeEntity("a")
	entity.markErr = errors.New("disk full")

	d := newTestDispatcher(repo, newEntityStore(entity), WithMaxFailureCount(1))

	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"))
	stopDispatcher(t, d)

	pushes, _ := entity.calls()
	assert.Equal(t, 2, pushes)
	assert.Zero(t, d.Stats().Successes)
	assert.Equal(t, int64(1), d.Stats().Drops)
}

func TestDispatcher_PublishesOutcomes(t *testing.T) {
	repo := newMemRepo()
	store := newEntityStore(newFakeEntity("ok"), newFakeEntity("bad", domain.OutcomeCritical))

	bus := EventBus.New()
	var (
		mu     sync.Mutex
		events []domain.SyncOutcomeEvent
	)
	require.NoError(t, bus.Subscribe(domain.EventSyncOutcome, func(e *domain.SyncOutcomeEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, *e)
	}))

	registry := NewRegistry()
	registry.Register(domain.EntityTypeNote, store.resolve)
	d := New(logger.Mock(), repo, registry, bus, WithWorkers(1))

	base := time.Now()
	repo.add(t, domain.EntityTypeNote, "ok", base, 0)
	repo.add(t, domain.EntityTypeNote, "bad", base.Add(time.Second), 0)

	require.NoError(t, d.Start(context.Background()))
	stopDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)

	assert.Equal(t, "ok", events[0].EntityID)
	assert.Equal(t, domain.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, ActionComplete.String(), events[0].Action)

	assert.Equal(t, "bad", events[1].EntityID)
	assert.Equal(t, domain.OutcomeCritical, events[1].Outcome)
	assert.Equal(t, ActionDrop.String(), events[1].Action)
}

func TestDispatcher_EnqueueValidation(t *testing.T) {
	d := newTestDispatcher(newMemRepo(), newEntityStore())
	defer stopDispatcher(t, d)

	assert.ErrorIs(t, d.Enqueue(context.Background(), "", "a"), domain.ErrInvalidEntityType)
	assert.ErrorIs(t, d.Enqueue(context.Background(), domain.EntityTypeNote, ""), domain.ErrInvalidEntityID)
}

func TestDispatcher_RefusesWorkAfterStop(t *testing.T) {
	repo := newMemRepo()
	d := newTestDispatcher(repo, newEntityStore(newFakeEntity("a")))
	stopDispatcher(t, d)

	assert.ErrorIs(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "a"), domain.ErrDispatcherStopped)
	assert.ErrorIs(t, d.Start(context.Background()), domain.ErrDispatcherStopped)

	d.Notify()
	assert.Zero(t, d.Stats().Pending)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatcher_StopTimesOut(t *testing.T) {
	repo := newMemRepo()

	started := make(chan struct{})
	release := make(chan struct{})
	entity := newFakeEntity("slow")
	entity.onCall = func(*fakeEntity) {
		close(started)
		<-release
	}

	d := newTestDispatcher(repo, newEntityStore(entity))
	require.NoError(t, d.Enqueue(context.Background(), domain.EntityTypeNote, "slow"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the running attempt still completes
	close(release)
	require.Eventually(t, func() bool {
		return d.Stats().Running == 0
	}, 2*time.Second, 5*time.Millisecond)

	pushes, _ := entity.calls()
	assert.Equal(t, 1, pushes)
}

func TestDispatcher_SetMaxFailureCount(t *testing.T) {
	d := newTestDispatcher(newMemRepo(), newEntityStore())
	assert.Equal(t, domain.DefaultMaxFailureCount, d.MaxFailureCount())

	d.SetMaxFailureCount(2)
	assert.Equal(t, 2, d.MaxFailureCount())

	d.SetMaxFailureCount(-1)
	assert.Equal(t, 2, d.MaxFailureCount())
	assert.Equal(t, 2, d.Stats().MaxFailureCount)
}
