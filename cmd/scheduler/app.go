package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/config"
	"github.com/kerucko/scheduler/internal/events"
	"github.com/kerucko/scheduler/internal/handlers"
	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/repository"
	"github.com/kerucko/scheduler/internal/seed"
	"github.com/kerucko/scheduler/internal/service/statuses"
	"github.com/kerucko/scheduler/internal/service/tasks"
	"github.com/kerucko/scheduler/internal/service/users"
	"github.com/kerucko/scheduler/internal/utils"
)

// The three stores both storage drivers provide.
type taskStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockUsers(ctx context.Context, userIDs ...int64) error
	LockTask(ctx context.Context, id int64) (*models.Task, error)
	GetByUser(ctx context.Context, userID int64) ([]models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Create(ctx context.Context, t *models.Task) error
	UpdateFields(ctx context.Context, id int64, patch models.TaskPatch) error
	Delete(ctx context.Context, id int64) error
}

type userStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetAll(ctx context.Context) ([]models.User, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

type statusStore interface {
	Create(ctx context.Context, s *models.Status) error
	GetAll(ctx context.Context) ([]models.Status, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.Status, error)
}

var (
	_ taskStore   = (*repository.TaskRepository)(nil)
	_ taskStore   = (*repository.MemoryTaskRepository)(nil)
	_ userStore   = (*repository.UserRepository)(nil)
	_ userStore   = (*repository.MemoryUserRepository)(nil)
	_ statusStore = (*repository.StatusRepository)(nil)
	_ statusStore = (*repository.MemoryStatusRepository)(nil)
)

type app struct {
	log *logrus.Logger

	pool   *pgxpool.Pool
	memory *repository.Memory

	statusRepo statusStore
	bus        *events.Bus
	kafka      *events.KafkaForwarder

	auth     *utils.AuthManager
	users    *users.Service
	tasks    *tasks.Service
	statuses *statuses.Service
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	a := &app{log: log}

	var (
		taskRepo   taskStore
		userRepo   userStore
		statusRepo statusStore
	)
	switch cfg.StorageConfig.Driver {
	case config.StorageMemory:
		a.memory = repository.NewMemory()
		taskRepo, userRepo, statusRepo = a.memory.Tasks(), a.memory.Users(), a.memory.Statuses()
		log.Warn("using in-memory storage, data is lost on exit")
	default:
		pool, err := repository.NewConnection(ctx, cfg.PostgresConfig, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.pool = pool
		taskRepo = repository.NewTaskRepository(pool)
		userRepo = repository.NewUserRepository(pool)
		statusRepo = repository.NewStatusRepository(pool)
	}
	a.statusRepo = statusRepo

	a.bus = events.NewBus(cfg.EventsConfig.BufferSize, log.WithField("component", "event-bus"))
	events.NewListener(log).Register(a.bus)
	if cfg.EventsConfig.Kafka.Enabled() {
		a.kafka = events.NewKafkaForwarder(cfg.EventsConfig.Kafka, log)
		a.kafka.Register(a.bus)
		log.WithField("topic", cfg.EventsConfig.Kafka.Topic).Info("forwarding task events to kafka")
	}

	a.auth = utils.NewAuthManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.TokenTTL)
	a.users = users.NewService(userRepo, a.auth, log)
	a.tasks = tasks.NewService(taskRepo, userRepo, statusRepo, a.bus, log)
	a.statuses = statuses.NewService(statusRepo)
	return a, nil
}

func (a *app) seeder() *seed.Seeder {
	return seed.NewSeeder(a.statusRepo, a.users, a.tasks, a.log)
}

func (a *app) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.WithError(err).Warn("closing kafka writer")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, cleanup, err := logger.New(cfg.LogConfig)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.memory != nil && cfg.StorageConfig.Seed {
		if _, err := a.seeder().Run(ctx); err != nil {
			return err
		}
	}

	// Workers outlive ctx so queued events drain during shutdown.
	a.bus.Start(context.WithoutCancel(ctx), cfg.EventsConfig.Workers)

	h := handlers.NewHandler(a.users, a.tasks, a.statuses, a.auth, log)
	srv := &http.Server{
		Addr:         "[::]:" + cfg.ServerConfig.Port,
		Handler:      handlers.NewRouter(h),
		ReadTimeout:  cfg.ServerConfig.ReadTimeout,
		WriteTimeout: cfg.ServerConfig.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("start listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerConfig.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := a.bus.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("event bus did not drain")
	}
	if n := a.bus.Dropped(); n > 0 {
		log.WithField("dropped", n).Warn("events dropped during run")
	}
	return nil
}

func runMigrate(ctx context.Context, cfg config.Config) error {
	if cfg.StorageConfig.Driver != config.StoragePostgres {
		return fmt.Errorf("migrate needs the postgres storage driver, got %q", cfg.StorageConfig.Driver)
	}
	log, cleanup, err := logger.New(cfg.LogConfig)
	if err != nil {
		return err
	}
	defer cleanup()

	pool, err := repository.NewConnection(ctx, cfg.PostgresConfig, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	start := time.Now()
	if err := repository.Migrate(ctx, pool); err != nil {
		return err
	}
	log.WithField("took", time.Since(start).String()).Info("schema applied")
	return nil
}

func runSeed(ctx context.Context, cfg config.Config) error {
	if cfg.StorageConfig.Driver != config.StoragePostgres {
		return fmt.Errorf("seed needs the postgres storage driver; set storage.seed for the memory driver")
	}
	log, cleanup, err := logger.New(cfg.LogConfig)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := repository.Migrate(ctx, a.pool); err != nil {
		return err
	}
	if err := repository.Reset(ctx, a.pool); err != nil {
		return err
	}

	a.bus.Start(context.WithoutCancel(ctx), cfg.EventsConfig.Workers)
	res, err := a.seeder().Run(ctx)
	if closeErr := a.bus.Close(context.Background()); closeErr != nil {
		log.WithError(closeErr).Warn("event bus did not drain")
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"statuses": len(res.Statuses),
		"users":    len(res.Users),
		"tasks":    len(res.Tasks),
	}).Info("seeding completed")
	return nil
}
