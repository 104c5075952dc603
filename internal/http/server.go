package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flurbudurbur/nanosync/internal/config"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	rootLog logger.Logger
	log     zerolog.Logger
	sse     *sse.Server
	db      DBPinger

	config *config.AppConfig

	version string
	commit  string
	date    string

	syncService  syncService
	jobs         syncJobLister
	outcomes     outcomeHistory
	scheduler    sweepScheduler
	notesService notesService

	mu     sync.Mutex
	server *http.Server
}

func NewServer(
	log logger.Logger,
	config *config.AppConfig,
	sse *sse.Server,
	db DBPinger,
	version string,
	commit string,
	date string,
	syncService syncService,
	jobs syncJobLister,
	outcomes outcomeHistory,
	scheduler sweepScheduler,
	notesService notesService,
) *Server {
	return &Server{
		rootLog:      log,
		log:          log.With().Str("module", "http").Logger(),
		config:       config,
		sse:          sse,
		db:           db,
		version:      version,
		commit:       commit,
		date:         date,
		syncService:  syncService,
		jobs:         jobs,
		outcomes:     outcomes,
		scheduler:    scheduler,
		notesService: notesService,
	}
}

// Open listens on the configured address and serves until Shutdown.
func (s *Server) Open() error {
	cfg := s.config.Snapshot()

	addr := fmt.Sprintf("%v:%v", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.log.Info().Msgf("Starting server. Listening on %s", listener.Addr().String())

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware(&s.log))

	c := cors.New(cors.Options{
		AllowCredentials:   true,
		AllowedMethods:     []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowOriginFunc:    func(origin string) bool { return true },
		OptionsPassthrough: true,
		Debug:              false,
	})

	r.Use(c.Handler)

	encoder := encoder{}

	r.Route("/api", func(r chi.Router) {
		r.Route("/healthz", newHealthHandler(encoder, s.db).Routes)
		r.Route("/config", newConfigHandler(encoder, s.rootLog, s.config, s.version, s.commit, s.date).Routes)
		r.Route("/sync", newSyncHandler(encoder, s.syncService, s.jobs, s.outcomes, s.scheduler).Routes)
		r.Route("/notes", newNotesHandler(encoder, s.notesService).Routes)

		if s.sse != nil {
			s.sse.Headers = map[string]string{
				"Content-Type":      "text/event-stream",
				"Cache-Control":     "no-cache",
				"Connection":        "keep-alive",
				"X-Accel-Buffering": "no",
			}
			r.HandleFunc("/events", s.sse.ServeHTTP)
		}
	})

	return r
}
