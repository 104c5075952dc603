package scheduler

import (
	"context"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"

	"github.com/rs/zerolog"
)

// sweepTimeout bounds the pending-job count query.
const sweepTimeout = 30 * time.Second

// Notifier wakes the sync dispatcher.
type Notifier interface {
	Notify()
}

// SweepJob wakes the dispatcher when jobs are still persisted, so work left
// by a crash or an interrupted pass is picked up without a new save.
type SweepJob struct {
	Name     string
	Log      zerolog.Logger
	Repo     domain.SyncJobRepo
	Notifier Notifier
}

func (j *SweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := j.Repo.Count(ctx)
	if err != nil {
		j.Log.Error().Err(err).Msg("could not count pending sync jobs")
		return
	}

	if count == 0 {
		j.Log.Trace().Msg("no pending sync jobs")
		return
	}

	j.Log.Debug().Int("pending_jobs", count).Msg("waking sync dispatcher")
	j.Notifier.Notify()
}
