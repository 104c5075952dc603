package syncqueue

import (
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
)

// Action is what happens to a job after an attempt.
type Action int

const (
	// ActionComplete marks the entity synced and destroys the job.
	ActionComplete Action = iota
	// ActionRetry increments the failure count and keeps the job.
	ActionRetry
	// ActionDrop destroys the job without marking the entity synced.
	ActionDrop
	// ActionCleanup destroys a job whose entity no longer exists.
	ActionCleanup
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return domain.SyncActionCompleted
	case ActionRetry:
		return domain.SyncActionRetried
	case ActionDrop:
		return domain.SyncActionDropped
	case ActionCleanup:
		return domain.SyncActionCleaned
	default:
		return "unknown"
	}
}

// Decide maps an attempt outcome to the job's next step. A job is retried
// while failureCount < maxFailureCount, so an always-failing job gets
// maxFailureCount+1 attempts. Unknown outcomes are treated as critical.
func Decide(failureCount int, outcome domain.Outcome, maxFailureCount int) Action {
	switch outcome {
	case domain.OutcomeSuccess:
		return ActionComplete
	case domain.OutcomeFailure:
		if failureCount < maxFailureCount {
			return ActionRetry
		}
		return ActionDrop
	default:
		return ActionDrop
	}
}

// ShouldPush reports whether local changes since the last successful sync
// must be uploaded. A nil lastSyncedAt compares as the zero time.
func ShouldPush(updatedAt time.Time, lastSyncedAt *time.Time) bool {
	var last time.Time
	if lastSyncedAt != nil {
		last = *lastSyncedAt
	}

	return updatedAt.After(last)
}
