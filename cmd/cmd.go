package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skipline-backend/internal/config"
	"skipline-backend/internal/handlers"
	"skipline-backend/internal/metrics"
	"skipline-backend/internal/notify"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/repository"
	"skipline-backend/internal/repository/memstore"
	"skipline-backend/internal/services"
	"skipline-backend/internal/tasks"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// notificationLogs is both written by the sender and read back by profiles
type notificationLogs interface {
	notify.LogStore
	services.NotificationHistory
}

// backend is the storage the services run on
type backend struct {
	stores services.Stores
	logs   notificationLogs
	lister observer.Lister
	health metrics.CheckFunc
	close  func()
}

// Run starts the API server and blocks until SIGINT or SIGTERM
func Run(cfg *config.Config) error {
	ctx := context.Background()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	health := metrics.NewHealthChecker(Version)
	health.Register("database", store.health)

	// Optional Redis for the job queue and pub/sub
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info().Msg("Redis connection established")
	}

	// Notification delivery
	channels, err := notify.ChannelsFromConfig(cfg, notify.BreakerConfig{})
	if err != nil {
		return fmt.Errorf("failed to set up notification channels: %w", err)
	}
	sender := notify.NewSender(store.stores.Profiles, store.logs, channels...)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	rt := newRealtime(cfg, rdb, sender, store.lister)
	if rdb != nil {
		notify.StartWorkerPool(workerCtx, rdb, sender, cfg.Notify.Workers, cfg.Notify.MaxAttempts)
		go notify.MonitorDLQ(workerCtx, rdb, 30*time.Second)
	}

	// Avatar storage
	var uploader services.ObjectUploader = services.DisabledUploader{}
	if cfg.AWS.Enabled() {
		s3Uploader, err := services.NewS3Uploader(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("failed to create avatar uploader: %w", err)
		}
		uploader = s3Uploader
	} else {
		log.Warn().Msg("aws.s3_bucket is not set, avatar uploads are disabled")
	}

	// Initialize services
	userService := services.NewUserService(store.stores.Profiles, store.logs, cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour)
	avatarService := services.NewAvatarService(store.stores.Profiles, uploader)
	companyService := services.NewCompanyService(store.stores, cfg.Server.PublicURL)
	queueService := services.NewQueueService(store.stores, rt.notifier, rt.publisher, cfg.Queue.NotifyAhead)
	wsHub := services.NewWSHub()

	// Background jobs
	planner := tasks.NewPlanner(queueService, store.stores.Profiles, cfg.Queue.NoShowAfter, cfg.Queue.GuestRetention)
	scheduler, err := tasks.InitScheduler(planner)
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	router := handlers.NewRouter(handlers.Dependencies{
		Users:       userService,
		Avatars:     avatarService,
		Companies:   companyService,
		Queues:      queueService,
		Hub:         wsHub,
		Observer:    rt.observer,
		Health:      health,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server. No write timeout, websocket streams are long lived.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("database", cfg.Database.Driver).
			Bool("redis", rdb != nil).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	wsHub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	<-scheduler.Stop().Done()
	queueService.Wait()
	stopWorkers()

	log.Info().Msg("Server exited")
	return nil
}

// realtime is how notifications leave the request path and how staff views
// learn about queue changes
type realtime struct {
	notifier  notify.Notifier
	publisher observer.Publisher
	observer  observer.Observer
}

// newRealtime picks Redis when a client is given, otherwise the in-process
// mode named by queue.observer
func newRealtime(cfg *config.Config, rdb *redis.Client, sender *notify.Sender, lister observer.Lister) realtime {
	switch {
	case rdb != nil:
		return realtime{
			notifier:  notify.NewDispatcher(rdb),
			publisher: observer.NewRedisPublisher(rdb),
			observer:  observer.NewRedisObserver(rdb, lister),
		}
	case cfg.Queue.Observer == "push":
		broker := observer.NewBroker(lister)
		return realtime{notifier: notify.NewInlineNotifier(sender), publisher: broker, observer: broker}
	default:
		return realtime{
			notifier:  notify.NewInlineNotifier(sender),
			publisher: observer.NopPublisher{},
			observer:  observer.NewPollingObserver(lister, cfg.Queue.PollInterval),
		}
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Database.Driver == "memory" {
		db := memstore.New()
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return &backend{
			stores: services.Stores{
				Profiles:  db.Profiles(),
				Companies: db.Companies(),
				Queues:    db.Queues(),
				Entries:   db.Entries(),
			},
			logs:   db.NotificationLogs(),
			lister: db.Entries(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}

	db, err := connectPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	entries := repository.NewEntryRepository(db)
	return &backend{
		stores: services.Stores{
			Profiles:  repository.NewProfileRepository(db),
			Companies: repository.NewCompanyRepository(db),
			Queues:    repository.NewQueueRepository(db),
			Entries:   entries,
		},
		logs:   repository.NewNotificationLogRepository(db),
		lister: entries,
		health: db.Ping,
		close:  db.Close,
	}, nil
}

// connectPostgres opens the pool and checks the database is reachable
func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

// Migrate applies the schema and exits
func Migrate(cfg *config.Config) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := connectPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return repository.Migrate(ctx, db)
}

// setupLogger configures zerolog logger
func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.JSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
