// Package notes is the local note store. Saving a note runs the note save
// hooks: the before hook stamps UpdatedAt and the after hook enqueues a sync
// job.
package notes

import (
	"context"
	"time"

	"github.com/flurbudurbur/nanosync/internal/callbacks"
	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Enqueuer schedules an entity for synchronization.
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType domain.EntityType, entityID string) error
}

// Remote is the note transport.
type Remote interface {
	PushNote(ctx context.Context, note *domain.Note) domain.Outcome
	PullNote(ctx context.Context, id string) (*domain.Note, domain.Outcome)
}

type Service interface {
	Create(ctx context.Context, title string, body string) (*domain.Note, error)
	Save(ctx context.Context, note *domain.Note) error
	Destroy(ctx context.Context, id string) error
	Find(ctx context.Context, id string) (*domain.Note, error)
	// Resolve adapts a stored note to domain.Syncable.
	Resolve(ctx context.Context, id string) (domain.Syncable, error)
	Callbacks() *callbacks.Registry[*domain.Note]
}

type service struct {
	log    zerolog.Logger
	repo   domain.NoteRepo
	remote Remote
	queue  Enqueuer
	hooks  *callbacks.Registry[*domain.Note]
	now    func() time.Time
}

func NewService(log logger.Logger, repo domain.NoteRepo, remote Remote, queue Enqueuer) Service {
	s := &service{
		log:    log.With().Str("module", "notes").Logger(),
		repo:   repo,
		remote: remote,
		queue:  queue,
		hooks:  callbacks.New[*domain.Note](),
		now:    time.Now,
	}

	s.hooks.Before(callbacks.OpSave, s.touch)
	s.hooks.After(callbacks.OpSave, s.enqueueSync)

	return s
}

func (s *service) Callbacks() *callbacks.Registry[*domain.Note] {
	return s.hooks
}

func (s *service) touch(_ context.Context, note *domain.Note) error {
	note.UpdatedAt = s.now()
	return nil
}

func (s *service) enqueueSync(ctx context.Context, note *domain.Note) error {
	return s.queue.Enqueue(ctx, domain.EntityTypeNote, note.ID)
}

func (s *service) Create(ctx context.Context, title string, body string) (*domain.Note, error) {
	note := &domain.Note{
		ID:    uuid.NewString(),
		Title: title,
		Body:  body,
	}

	if err := s.Save(ctx, note); err != nil {
		return nil, err
	}

	s.log.Debug().Str("note_id", note.ID).Msg("note created")

	return note, nil
}

func (s *service) Save(ctx context.Context, note *domain.Note) error {
	if note.ID == "" {
		return errors.Wrap(domain.ErrInvalidEntityID, "note id is required")
	}

	err := s.hooks.Run(ctx, callbacks.OpSave, note, func(ctx context.Context) error {
		return s.repo.Store(ctx, note)
	})
	if err != nil {
		return errors.Wrapf(err, "could not save note %s", note.ID)
	}

	return nil
}

func (s *service) Destroy(ctx context.Context, id string) error {
	note, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.hooks.Run(ctx, callbacks.OpDestroy, note, func(ctx context.Context) error {
		return s.repo.Delete(ctx, note.ID)
	})
	if err != nil {
		return errors.Wrapf(err, "could not destroy note %s", id)
	}

	return nil
}

func (s *service) Find(ctx context.Context, id string) (*domain.Note, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) Resolve(ctx context.Context, id string) (domain.Syncable, error) {
	note, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrEntityNotFound, "note %s", id)
		}
		return nil, err
	}

	return &syncNote{svc: s, note: note}, nil
}

// writeQuietly runs write as the note's save without the save hooks, so
// neither UpdatedAt nor the sync queue is touched.
func (s *service) writeQuietly(ctx context.Context, note *domain.Note, write func(ctx context.Context) error) error {
	return s.hooks.Run(callbacks.WithoutCallbacks(ctx), callbacks.OpSave, note, write)
}
