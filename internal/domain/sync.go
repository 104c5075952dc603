package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidEntityID   = errors.New("invalid entity id")
)

// EntityType tags the kind of entity a SyncJob points at. It is persisted
// as its string value and resolved through a typed registry.
type EntityType string

const (
	EntityTypeNote EntityType = "note"
)

func (t EntityType) String() string {
	return string(t)
}

// Outcome is the result of a single push or pull.
type Outcome int

const (
	// OutcomeSuccess means local and remote state were reconciled.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a transient error worth retrying.
	OutcomeFailure
	// OutcomeCritical is a non-retryable error; the job is dropped.
	OutcomeCritical
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SyncJob is one pending synchronization unit. It has no terminal state of
// its own: once an attempt ends the job, the row is destroyed.
type SyncJob struct {
	ID           int64      `json:"id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	CreatedAt    time.Time  `json:"created_at"`
	FailureCount int        `json:"failure_count"`
}

type SyncJobRepo interface {
	// Create persists a new job and assigns its ID.
	Create(ctx context.Context, job *SyncJob) error
	// Save persists the job's failure count.
	Save(ctx context.Context, job *SyncJob) error
	// Destroy removes the job. Destroying a missing job is not an error.
	Destroy(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (*SyncJob, error)
	// Oldest returns the job with the earliest CreatedAt whose ID is not in
	// exclude, or nil if there is none.
	Oldest(ctx context.Context, exclude []int64) (*SyncJob, error)
	List(ctx context.Context, limit uint64) ([]SyncJob, error)
	Count(ctx context.Context) (int, error)
}

// Syncable is the contract an entity must satisfy to be enqueued.
type Syncable interface {
	SyncID() string
	UpdatedAt() time.Time
	// LastSyncedAt is nil when the entity has never been synced.
	LastSyncedAt() *time.Time
	Push(ctx context.Context) Outcome
	Pull(ctx context.Context) Outcome
	// MarkSynced records a successful sync without running the save
	// callbacks that enqueue sync jobs.
	MarkSynced(ctx context.Context, at time.Time) error
}

// SyncOutcomeEvent is published on the event bus whenever a job leaves the
// queue or is rescheduled.
type SyncOutcomeEvent struct {
	JobID        int64
	EntityType   EntityType
	EntityID     string
	Outcome      Outcome
	Action       string
	FailureCount int
	Err          error
	Timestamp    time.Time
}

const EventSyncOutcome = "sync:outcome"

// Actions reported in SyncOutcomeEvent.
const (
	SyncActionCompleted = "completed"
	SyncActionRetried   = "retried"
	SyncActionDropped   = "dropped"
	SyncActionCleaned   = "cleaned"
)
