package server

import (
	"context"
	"sync"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"
	"github.com/flurbudurbur/nanosync/internal/scheduler"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type dispatcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type httpServer interface {
	Shutdown(ctx context.Context) error
}

// Server owns the background services and shuts them down in order:
// no new requests, no new sweeps, then drain the sync queue.
type Server struct {
	log    zerolog.Logger
	config *domain.Config

	scheduler  scheduler.Service
	dispatcher dispatcher
	http       httpServer

	lock    sync.Mutex
	started bool
}

func NewServer(log logger.Logger, config *domain.Config, scheduler scheduler.Service, dispatcher dispatcher, http httpServer) *Server {
	return &Server{
		log:        log.With().Str("module", "server").Logger(),
		config:     config,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		http:       http,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return nil
	}

	// start cron scheduler
	s.scheduler.Start()

	if err := s.dispatcher.Start(ctx); err != nil {
		s.scheduler.Stop()
		return errors.Wrap(err, "could not start sync dispatcher")
	}

	s.started = true

	return nil
}

// Shutdown stops every service and returns the first error seen.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.log.Info().Msg("Shutting down server")

	var first error

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("could not shut down http server")
			first = errors.Wrap(err, "could not shut down http server")
		}
	}

	if !s.started {
		return first
	}

	// stop cron scheduler
	s.scheduler.Stop()

	if err := s.dispatcher.Stop(ctx); err != nil {
		s.log.Error().Err(err).Msg("could not drain sync queue")
		if first == nil {
			first = err
		}
	}

	s.started = false

	return first
}
