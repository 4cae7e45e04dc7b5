package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/quantello/marketsync/internal/config"
	"github.com/quantello/marketsync/internal/handlers"
	"github.com/quantello/marketsync/internal/middleware"
	"github.com/quantello/marketsync/internal/migration"
	"github.com/quantello/marketsync/internal/notification"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/quantello/marketsync/internal/routes"
	"github.com/quantello/marketsync/internal/scheduler"
	"github.com/quantello/marketsync/internal/source"
	"github.com/quantello/marketsync/internal/sync"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize notification service. The email channel is optional;
	// without SMTP config notifications are persisted only.
	notificationRepo := repository.NewNotificationRepository(db)
	var notifiers []notification.Notifier
	if cfg.Email.SMTPHost != "" {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure email notifier")
		}
		notifiers = append(notifiers, emailNotifier)
	}
	notificationService := notification.NewService(notificationRepo, logger, notifiers...)

	// Create the application instance.
	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
	}

	runner := app.buildRunner()

	// Start the optional in-process scheduler.
	cronScheduler := scheduler.New(runner, logger)
	for jobName, spec := range cfg.Jobs.Schedules {
		if err := cronScheduler.Register(jobName, spec); err != nil {
			logger.Fatal().Err(err).Str("job", jobName).Msg("invalid job schedule")
		}
	}
	cronScheduler.Start()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(runner, logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, cronScheduler, logger)

	logger.Info().Msg("Application terminated.")
}

// buildRunner wires the sync engine from its repositories and services.
func (app *application) buildRunner() *sync.Runner {
	calendarRepo := repository.NewCalendarRepository(app.db)
	runRepo := repository.NewRunRepository(app.db)
	lockRepo := repository.NewLockRepository(app.db)
	heartbeatRepo := repository.NewHeartbeatRepository(app.db)
	quoteRepo := repository.NewQuoteRepository(app.db)
	instrumentRepo := repository.NewInstrumentRepository(app.db)

	client := source.NewHTTPClient(source.HTTPClientConfig{
		BaseURL:    app.config.Source.BaseURL,
		APIToken:   app.config.Source.APIToken,
		Timeout:    app.config.Source.Timeout,
		MaxRetries: app.config.Source.MaxRetries,
		RetryBase:  app.config.Source.RetryBase,
		RetryCap:   app.config.Source.RetryCap,
	}, app.logger)

	locker := sync.NewLeaseLocker(lockRepo, app.logger)
	heartbeat := sync.NewHeartbeatRecorder(heartbeatRepo, app.logger)
	planner := sync.NewPlanner(calendarRepo, runRepo, app.logger)
	scd := sync.NewSCDSynchronizer(instrumentRepo, app.config.Jobs.InstrumentChunkSize, app.logger)
	integrity := sync.NewIntegrityChecker(sync.IntegrityConfig{
		CalendarWindowDays:     app.config.Integrity.CalendarWindowDays,
		QuoteStaleBusinessDays: app.config.Integrity.QuoteStaleBusinessDays,
		InstrumentStaleDays:    app.config.Integrity.InstrumentStaleDays,
	}, calendarRepo, runRepo, quoteRepo, instrumentRepo, app.logger)

	return sync.NewRunner(sync.RunnerConfig{
		LeaseTTL:              app.config.Jobs.LeaseTTL,
		LookbackDays:          app.config.Jobs.LookbackDays,
		MaxBatch:              app.config.Jobs.MaxBatch,
		MaxPagesPerInvocation: app.config.Jobs.MaxPagesPerInvocation,
		CalendarBackDays:      app.config.Jobs.CalendarBackDays,
		CalendarForwardDays:   app.config.Jobs.CalendarForwardDays,
		CalendarChunkSize:     app.config.Jobs.CalendarChunkSize,
		QuoteChunkSize:        app.config.Jobs.QuoteChunkSize,
	}, client, calendarRepo, runRepo, quoteRepo, instrumentRepo,
		locker, heartbeat, planner, scd, integrity, app.notifications, app.logger)
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(runner *sync.Runner, logger zerolog.Logger) http.Handler {
	runRepo := repository.NewRunRepository(app.db)
	heartbeatRepo := repository.NewHeartbeatRepository(app.db)

	authHandler := handlers.NewAuthHandler(app.config.JWTSecret)
	jobHandler := handlers.NewJobHandler(runner, runRepo, heartbeatRepo, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(authHandler, jobHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, cronScheduler *scheduler.Scheduler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the scheduler and wait for in-flight runs.
	logger.Info().Msg("Stopping scheduler...")
	cronScheduler.Stop()
	logger.Info().Msg("Scheduler stopped.")
}
