package events

import (
	"sync"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"
)

// historySize is how many sync outcomes are kept for the admin API.
const historySize = 100

type Subscriber struct {
	log      zerolog.Logger
	eventbus EventBus.Bus

	mu      sync.RWMutex
	history []domain.SyncOutcomeEvent
	next    int
	full    bool
}

func NewSubscribers(log logger.Logger, eventbus EventBus.Bus) *Subscriber {
	s := &Subscriber{
		log:      log.With().Str("module", "events").Logger(),
		eventbus: eventbus,
		history:  make([]domain.SyncOutcomeEvent, historySize),
	}

	s.Register()

	return s
}

func (s *Subscriber) Register() {
	if err := s.eventbus.Subscribe(domain.EventSyncOutcome, s.handleSyncOutcome); err != nil {
		s.log.Error().Err(err).Msgf("could not subscribe to %s", domain.EventSyncOutcome)
	}
}

func (s *Subscriber) Unregister() {
	if err := s.eventbus.Unsubscribe(domain.EventSyncOutcome, s.handleSyncOutcome); err != nil {
		s.log.Debug().Err(err).Msgf("could not unsubscribe from %s", domain.EventSyncOutcome)
	}
}

func (s *Subscriber) handleSyncOutcome(event *domain.SyncOutcomeEvent) {
	if event == nil {
		return
	}

	if event.Action == domain.SyncActionDropped {
		s.log.Error().
			Err(event.Err).
			Int64("job_id", event.JobID).
			Str("entity_type", event.EntityType.String()).
			Str("entity_id", event.EntityID).
			Str("outcome", event.Outcome.String()).
			Int("failure_count", event.FailureCount).
			Msg("sync gave up on entity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.next] = *event
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit outcomes, newest first. A limit of zero or
// less returns everything kept.
func (s *Subscriber) Recent(limit int) []domain.SyncOutcomeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.history)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.SyncOutcomeEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.history)) % len(s.history)
		out = append(out, s.history[idx])
	}

	return out
}
