package syncqueue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/flurbudurbur/nanosync/internal/callbacks"
	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory domain.SyncJobRepo.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]domain.SyncJob
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[int64]domain.SyncJob)}
}

func (r *memRepo) Create(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	job.ID = r.nextID
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) Save(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrRecordNotFound
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) Destroy(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, id)
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*domain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &job, nil
}

func (r *memRepo) sorted() []domain.SyncJob {
	jobs := make([]domain.SyncJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

func (r *memRepo) Oldest(_ context.Context, exclude []int64) (*domain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	for _, j := range r.sorted() {
		if !skip[j.ID] {
			job := j
			return &job, nil
		}
	}
	return nil, nil
}

func (r *memRepo) List(_ context.Context, limit uint64) ([]domain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := r.sorted()
	if limit > 0 && uint64(len(jobs)) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *memRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.jobs), nil
}

func (r *memRepo) add(t *testing.T, entityType domain.EntityType, id string, createdAt time.Time, failures int) *domain.SyncJob {
	t.Helper()

	job := &domain.SyncJob{EntityType: entityType, EntityID: id, CreatedAt: createdAt, FailureCount: failures}
	require.NoError(t, r.Create(context.Background(), job))
	return job
}

// fakeEntity answers push and pull from a script. The last scripted
// outcome repeats.
type fakeEntity struct {
	mu         sync.Mutex
	id         string
	updatedAt  time.Time
	lastSynced *time.Time
	outcomes   []domain.Outcome
	pushes     int
	pulls      int

	hooks   *callbacks.Registry[*fakeEntity]
	onCall  func(e *fakeEntity)
	markErr error
}

func newFakeEntity(id string, outcomes ...domain.Outcome) *fakeEntity {
	if len(outcomes) == 0 {
		outcomes = []domain.Outcome{domain.OutcomeSuccess}
	}
	return &fakeEntity{
		id:        id,
		updatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		outcomes:  outcomes,
		hooks:     callbacks.New[*fakeEntity](),
	}
}

func (e *fakeEntity) SyncID() string { return e.id }

func (e *fakeEntity) UpdatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatedAt
}

func (e *fakeEntity) LastSyncedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSynced
}

func (e *fakeEntity) next() domain.Outcome {
	calls := e.pushes + e.pulls
	if calls-1 < len(e.outcomes) {
		return e.outcomes[calls-1]
	}
	return e.outcomes[len(e.outcomes)-1]
}

func (e *fakeEntity) Push(context.Context) domain.Outcome {
	if e.onCall != nil {
		e.onCall(e)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushes++
	return e.next()
}

func (e *fakeEntity) Pull(context.Context) domain.Outcome {
	if e.onCall != nil {
		e.onCall(e)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pulls++
	return e.next()
}

// MarkSynced goes through the save hooks with callbacks suppressed, the
// same path a persisted entity takes.
func (e *fakeEntity) MarkSynced(ctx context.Context, at time.Time) error {
	if e.markErr != nil {
		return e.markErr
	}
	return e.hooks.Run(callbacks.WithoutCallbacks(ctx), callbacks.OpSave, e, func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.lastSynced = &at
		return nil
	})
}

func (e *fakeEntity) calls() (pushes, pulls int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pushes, e.pulls
}

// entityStore resolves fake entities by id.
type entityStore struct {
	mu       sync.Mutex
	entities map[string]*fakeEntity
}

func newEntityStore(entities ...*fakeEntity) *entityStore {
	s := &entityStore{entities: make(map[string]*fakeEntity)}
	for _, e := range entities {
		s.entities[e.id] = e
	}
	return s
}

func (s *entityStore) put(e *fakeEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.id] = e
}

func (s *entityStore) resolve(_ context.Context, id string) (domain.Syncable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, domain.ErrEntityNotFound
	}
	return e, nil
}

func stopDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, d.Stop(ctx))
}
