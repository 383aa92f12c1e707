package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"derby/audio"
	"derby/config"
	"derby/database"
	"derby/events"
	"derby/infrastructure"
	"derby/loop"
	"derby/observability"
	"derby/repository"
	"derby/service"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the configured level and formatter to logrus
func ConfigureLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	// Keep stdout for the console
	log.SetOutput(os.Stderr)
}

// openStorage opens the configured backend and returns its unit of work factory
// with a function that closes it
func openStorage(ctx context.Context, cfg *config.Config) (service.UnitOfWorkFactory, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		log.Info("Connecting to database...")
		databaseURL := database.ConstructDatabaseURL(cfg.DatabaseURL, cfg.DatabaseName)
		db, err := database.NewConnection(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("Database connection established successfully")
		return repository.NewUnitOfWorkFactory(db), db.Close, nil

	default:
		if err := os.MkdirAll(cfg.PebblePath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := database.OpenPebble(cfg.PebblePath)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Error("Error closing local store")
			}
		}
		return repository.NewPebbleUnitOfWorkFactory(db), closeFn, nil
	}
}

// Run initializes the game and drives the console until ctx is cancelled or
// the player quits
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)
	log.WithFields(log.Fields{
		"environment": cfg.Environment,
		"storage":     cfg.StorageBackend,
		"audio":       cfg.AudioBackend,
	}).Info("Starting derby...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Storage
	uowFactory, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	// Metrics
	metrics := observability.NewMetricsProvider(cfg)
	if err := metrics.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down metrics")
		}
	}()

	// Audio backend
	backend, err := audio.NewBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	// Game loop, bus and services. Nothing else runs yet, so they can be
	// built off the loop.
	clk := clock.New()
	gameLoop := loop.New(clk)
	bus := events.NewBus()
	rng := rand.New(rand.NewSource(clk.Now().UnixNano()))

	engine, err := service.NewRaceEngine(ctx, cfg.Tuning.Race, gameLoop, uowFactory, bus, rng, metrics)
	if err != nil {
		return fmt.Errorf("failed to create race engine: %w", err)
	}
	audioSession, err := service.NewAudioSession(ctx, cfg.Tuning.Audio, gameLoop, backend, uowFactory, bus, rng, metrics)
	if err != nil {
		return fmt.Errorf("failed to create audio session: %w", err)
	}
	controller := service.NewGameController(engine, audioSession, gameLoop, bus, cfg.Tuning.Audio.ResultDialogWait)

	// Optional spectator feed
	var natsClient *infrastructure.NATSClient
	var forwarder *infrastructure.EventForwarder
	stopForwarder := func() {}
	if cfg.NATSServers != "" {
		natsClient = infrastructure.NewNATSClient(cfg.NATSServers)
		if err := natsClient.Connect(ctx); err != nil {
			return err
		}
		if err := natsClient.EnsureEventStream(cfg.NATSSubjectPrefix); err != nil {
			log.WithError(err).Warn("Failed to ensure event stream, publishing without persistence")
		}
		forwarder = infrastructure.NewEventForwarder(natsClient, cfg.NATSSubjectPrefix, clk, metrics)
		forwarder.Attach(bus)
		stopForwarder = forwarder.Start(ctx)
	}

	var focus FocusSimulator
	if headless, ok := backend.(*audio.HeadlessBackend); ok {
		focus = headless
	}
	console := NewConsole(controller, gameLoop, focus, os.Stdin, os.Stdout)
	console.Attach(bus)
	audioSession.StartBackgroundLoop()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = gameLoop.Run(loopCtx)
	}()

	log.Info("Game is running")
	runErr := console.Run(ctx)

	// Cleanup resources
	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := gameLoop.Call(shutdownCtx, func() {
		console.Detach()
		if forwarder != nil {
			forwarder.Detach()
		}
		controller.Close()
		audioSession.Close()
		engine.Close()
	}); err != nil {
		log.WithError(err).Error("Shutdown did not complete on the game loop")
	}
	stopLoop()
	<-loopDone

	stopForwarder()
	if natsClient != nil {
		if err := natsClient.Close(); err != nil {
			log.WithError(err).Error("Error closing NATS connection")
		}
	}

	log.Info("Shutdown completed")
	return runErr
}

// ParseMigrateArgs turns "up", "down [n]" or "status" into a migration action
func ParseMigrateArgs(args []string) (func() error, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: derby migrate [up|down [n]|status]")
	}
	switch strings.ToLower(args[0]) {
	case "up":
		return database.MigrateUp, nil
	case "down":
		steps := "1"
		if len(args) > 1 {
			steps = args[1]
		}
		return func() error { return database.MigrateDown(steps) }, nil
	case "status":
		return database.MigrateStatus, nil
	default:
		return nil, fmt.Errorf("unknown migration command: %s", args[0])
	}
}
