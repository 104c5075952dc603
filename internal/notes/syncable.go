package notes

import (
	"context"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/pkg/errors"
)

// syncNote is a note as seen by the sync dispatcher. It holds the snapshot
// loaded at resolve time. Its writes are conditional on that snapshot or
// touch only the sync marker, so a concurrent edit is never overwritten.
type syncNote struct {
	svc  *service
	note *domain.Note
}

func (n *syncNote) SyncID() string {
	return n.note.ID
}

func (n *syncNote) UpdatedAt() time.Time {
	return n.note.UpdatedAt
}

func (n *syncNote) LastSyncedAt() *time.Time {
	return n.note.LastSyncedAt
}

func (n *syncNote) Push(ctx context.Context) domain.Outcome {
	return n.svc.remote.PushNote(ctx, n.note)
}

// Pull replaces the local title and body with the remote copy. The write
// only lands while the row still matches the snapshot, so a note edited
// locally since then keeps its edit.
func (n *syncNote) Pull(ctx context.Context) domain.Outcome {
	remote, outcome := n.svc.remote.PullNote(ctx, n.note.ID)
	if outcome != domain.OutcomeSuccess {
		return outcome
	}

	pulled := *n.note
	pulled.Title = remote.Title
	pulled.Body = remote.Body
	pulled.UpdatedAt = remote.UpdatedAt

	var written bool
	err := n.svc.writeQuietly(ctx, &pulled, func(ctx context.Context) error {
		var err error
		written, err = n.svc.repo.StoreIfUnchanged(ctx, &pulled, n.note.UpdatedAt)
		return err
	})
	if err != nil {
		n.svc.log.Error().Err(err).Str("note_id", n.note.ID).Msg("could not store pulled note")
		return domain.OutcomeFailure
	}

	if !written {
		if _, err := n.svc.repo.FindByID(ctx, n.note.ID); err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return domain.OutcomeCritical
			}
			n.svc.log.Error().Err(err).Str("note_id", n.note.ID).Msg("could not reload note for pull")
			return domain.OutcomeFailure
		}

		n.svc.log.Debug().Str("note_id", n.note.ID).Msg("note changed during pull, keeping local edit")
		return domain.OutcomeSuccess
	}

	n.note = &pulled

	return domain.OutcomeSuccess
}

// MarkSynced records at as the last sync time. If the note was edited
// after the snapshot was taken, the marker is pinned to the snapshot's
// UpdatedAt so the edit still compares as unsynced. Only the marker column
// is written.
func (n *syncNote) MarkSynced(ctx context.Context, at time.Time) error {
	snapshot := n.note.UpdatedAt

	err := n.svc.writeQuietly(ctx, n.note, func(ctx context.Context) error {
		return n.svc.repo.MarkSynced(ctx, n.note.ID, snapshot, at)
	})
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil
		}
		return errors.Wrapf(err, "could not mark note %s synced", n.note.ID)
	}

	marked := *n.note
	marked.LastSyncedAt = &at
	n.note = &marked

	return nil
}
