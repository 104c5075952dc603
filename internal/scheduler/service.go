package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepIdentifier = "sync-sweep"

type Service interface {
	Start()
	Stop()
	// AddJob adds a job that runs periodically at the given interval.
	AddJob(job cron.Job, interval time.Duration, identifier string) (int, error)
	// AddJobWithSpec adds a job using a cron spec string (e.g., "0 3 * * *").
	AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error)
	RemoveJobByIdentifier(id string) error
	GetNextRun(id string) (time.Time, error)
	// NextSweep returns when the sync sweep runs next, zero if unscheduled.
	NextSweep() time.Time
}

type service struct {
	log      zerolog.Logger
	config   *domain.Config
	jobRepo  domain.SyncJobRepo
	notifier Notifier

	cron *cron.Cron
	jobs map[string]cron.EntryID
	m    sync.RWMutex
}

func NewService(log logger.Logger, config *domain.Config, jobRepo domain.SyncJobRepo, notifier Notifier) Service {
	return &service{
		log:      log.With().Str("module", "scheduler").Logger(),
		config:   config,
		jobRepo:  jobRepo,
		notifier: notifier,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
		jobs: map[string]cron.EntryID{},
	}
}

func (s *service) Start() {
	s.log.Info().Msg("Starting scheduler service")

	s.cron.Start()

	s.addAppJobs()
}

func (s *service) addAppJobs() {
	sweep := &SweepJob{
		Name:     sweepIdentifier,
		Log:      s.log.With().Str("job", sweepIdentifier).Logger(),
		Repo:     s.jobRepo,
		Notifier: s.notifier,
	}

	spec := s.config.Sync.SweepSchedule
	if spec == "" {
		spec = domain.DefaultSweepSchedule
	}

	if _, err := s.AddJobWithSpec(sweep, spec, sweepIdentifier); err != nil {
		s.log.Error().Err(err).Str("spec", spec).Msgf("Failed to add '%s' job", sweepIdentifier)
	}
}

func (s *service) Stop() {
	s.log.Info().Msg("Stopping scheduler service")

	// wait for running jobs
	<-s.cron.Stop().Done()
}

func (s *service) AddJob(job cron.Job, interval time.Duration, identifier string) (int, error) {
	return s.AddJobWithSpec(job, fmt.Sprintf("@every %s", interval.String()), identifier)
}

func (s *service) AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.jobs[identifier]; exists {
		return 0, fmt.Errorf("job with identifier '%s' already exists", identifier)
	}

	entryID, err := s.cron.AddJob(spec, cron.NewChain(
		cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		return 0, fmt.Errorf("failed to add job '%s' with spec '%s': %w", identifier, spec, err)
	}

	s.log.Debug().Str("identifier", identifier).Str("spec", spec).Int("entryID", int(entryID)).Msg("Scheduled job added")
	s.jobs[identifier] = entryID

	return int(entryID), nil
}

func (s *service) RemoveJobByIdentifier(id string) error {
	s.m.Lock()
	defer s.m.Unlock()

	v, ok := s.jobs[id]
	if !ok {
		return nil
	}

	s.log.Debug().Msgf("scheduler.Remove: removing job: %v", id)

	s.cron.Remove(v)
	delete(s.jobs, id)

	return nil
}

func (s *service) GetNextRun(id string) (time.Time, error) {
	entry := s.getEntryById(id)

	if !entry.Valid() {
		return time.Time{}, nil
	}

	return entry.Next, nil
}

func (s *service) NextSweep() time.Time {
	next, _ := s.GetNextRun(sweepIdentifier)
	return next
}

func (s *service) getEntryById(id string) cron.Entry {
	s.m.RLock()
	defer s.m.RUnlock()

	v, ok := s.jobs[id]
	if !ok {
		return cron.Entry{}
	}

	return s.cron.Entry(v)
}
