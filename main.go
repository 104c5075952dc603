package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flurbudurbur/nanosync/internal/config"
	"github.com/flurbudurbur/nanosync/internal/database"
	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/events"
	"github.com/flurbudurbur/nanosync/internal/http"
	"github.com/flurbudurbur/nanosync/internal/logger"
	"github.com/flurbudurbur/nanosync/internal/notes"
	"github.com/flurbudurbur/nanosync/internal/remote"
	"github.com/flurbudurbur/nanosync/internal/scheduler"
	"github.com/flurbudurbur/nanosync/internal/server"
	"github.com/flurbudurbur/nanosync/internal/syncqueue"

	"github.com/asaskevich/EventBus"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to configuration directory")
	pflag.Parse()

	// read config
	cfg := config.New(configPath, version)
	c := cfg.Snapshot()

	// init new logger
	log := logger.New(c)

	// setup server-sent-events
	serverEvents := sse.New()
	serverEvents.CreateStreamWithOpts("logs", sse.StreamOpts{MaxEntries: 1000, AutoReplay: true})

	// register SSE writer
	log.RegisterSSEWriter(serverEvents)

	// setup internal eventbus
	bus := EventBus.New()
	subscribers := events.NewSubscribers(log, bus)

	// open database connection
	db, err := database.NewDB(c, log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create new db")
	}

	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("could not open db connection")
	}

	log.Info().Msgf("Starting nanosync")
	log.Info().Msgf("Version: %s", version)
	log.Info().Msgf("Commit: %s", commit)
	log.Info().Msgf("Build date: %s", date)
	log.Info().Msgf("Log-level: %s", c.Logging.Level)
	log.Info().Msgf("Using database: %s", db.Driver)

	// setup repos
	var (
		syncJobRepo = database.NewSyncJobRepo(log, db)
		noteRepo    = database.NewNoteRepo(log, db)
	)

	// setup services
	var (
		registry   = syncqueue.NewRegistry()
		dispatcher = syncqueue.New(log, syncJobRepo, registry, bus,
			syncqueue.WithMaxFailureCount(c.Sync.MaxFailureCount),
			syncqueue.WithWorkers(c.Sync.Workers),
		)
		remoteClient      = remote.NewClient(log, c.Remote)
		notesService      = notes.NewService(log, noteRepo, remoteClient, dispatcher)
		schedulingService = scheduler.NewService(log, c, syncJobRepo, dispatcher)
	)

	registry.Register(domain.EntityTypeNote, notesService.Resolve)

	// apply retry budget changes from config reloads and the admin API
	cfg.OnChange(func(c *domain.Config) {
		dispatcher.SetMaxFailureCount(c.Sync.MaxFailureCount)
	})

	// init dynamic config
	cfg.DynamicReload(log)

	httpServer := http.NewServer(
		log,
		cfg,
		serverEvents,
		db,
		version,
		commit,
		date,
		dispatcher,
		syncJobRepo,
		subscribers,
		schedulingService,
		notesService,
	)

	srv := server.NewServer(log, c, schedulingService, dispatcher, httpServer)
	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Stack().Err(err).Msg("could not start server")
		return
	}

	errorChannel := make(chan error, 1)

	go func() {
		errorChannel <- httpServer.Open()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	exitCode := 0

	select {
	case sig := <-sigCh:
		log.Info().Msgf("Shutting down server due to %s...", sig)
		if sig == syscall.SIGHUP {
			exitCode = 1
		}
	case err := <-errorChannel:
		if err != nil {
			log.Error().Stack().Err(err).Msg("http server stopped")
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
	}
	cancel()

	subscribers.Unregister()

	if err := db.Close(); err != nil {
		log.Error().Stack().Err(err).Msg("could not close db connection")
	}

	os.Exit(exitCode)
}
