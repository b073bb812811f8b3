package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timetracker/internal/clock"
	"timetracker/internal/config"
	"timetracker/internal/db"
	"timetracker/internal/handler"
	"timetracker/internal/jobs"
	"timetracker/internal/log"
	"timetracker/internal/notify"
	"timetracker/internal/reminder"
	"timetracker/internal/repository"
	"timetracker/internal/router"
	"timetracker/internal/service"
	"timetracker/internal/store"
	"timetracker/internal/worksession"
)

// backends holds the connections opened for the configured drivers.
type backends struct {
	sqlite *sql.DB
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func (b *backends) close(logger zerolog.Logger) {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}
	if b.sqlite != nil {
		if err := b.sqlite.Close(); err != nil {
			logger.Error().Err(err).Msg("sqlite close error")
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx := context.Background()
	conns := &backends{}

	// Users always live in SQLite; session records follow store.driver.
	conns.sqlite, err = db.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open sqlite")
	}
	if err := db.RunMigrations(conns.sqlite, filepath.Join(cfg.Migrations.Dir, "sqlite")); err != nil {
		logger.Fatal().Err(err).Msg("run sqlite migrations")
	}

	sessionStore, err := openStore(ctx, cfg, conns)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open session store")
	}

	sink, err := openSink(ctx, cfg, conns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open notification sink")
	}
	gateway := notify.NewGateway(
		notify.NewBus(),
		notify.PermissionFromName(cfg.Notify.Permission),
		sink,
		clock.System{},
		logger.With().Str("component", "notify").Logger(),
		notify.GatewayConfig{QueueSize: cfg.Notify.QueueSize},
	)

	runner := jobs.NewRunner(logger.With().Str("component", "jobs").Logger())
	runner.Start()

	trackerService := service.NewTrackerService(
		sessionStore,
		gateway,
		runner,
		clock.System{},
		logger.With().Str("component", "tracker").Logger(),
		service.TrackerConfig{
			Machine: worksession.Options{
				OpenBreakPolicy: worksession.OpenBreakPolicy(cfg.Tracker.ClockOutOpenBreak),
				Location:        loc,
			},
			Reminder: reminder.Config{
				EyeCareTick:          cfg.Reminder.EyeCareTick,
				LongSessionTick:      cfg.Reminder.LongSessionTick,
				Countdown:            cfg.Reminder.Countdown,
				LongSessionThreshold: cfg.Reminder.LongSessionThreshold,
				LongSessionRepeat:    cfg.Reminder.LongSessionRepeat,
			},
		},
	)

	resumed, err := trackerService.ResumeAll(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("resume open sessions")
	} else {
		logger.Info().Int("sessions", resumed).Msg("open sessions resumed")
	}

	userRepo := repository.NewUserRepository(conns.sqlite)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	engine := router.New(authService, router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Tracker: handler.NewTrackerHandler(trackerService),
		Admin:   handler.NewAdminHandler(trackerService, userRepo),
	}, cfg.CORS.Origins, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	trackerService.Close()
	runner.Stop()
	gateway.Close()
	conns.close(logger)

	logger.Info().Msg("server exited cleanly")
}

func openStore(ctx context.Context, cfg *config.AppConfig, conns *backends) (store.SessionStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Store.FileDir)
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, db.PostgresOptions{DSN: cfg.Store.PostgresDSN})
		if err != nil {
			return nil, err
		}
		conns.pool = pool
		if err := db.RunPostgresMigrations(ctx, pool, filepath.Join(cfg.Migrations.Dir, "postgres")); err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case "redis":
		client, err := redisClient(ctx, cfg, conns)
		if err != nil {
			return nil, err
		}
		return store.NewRedis(client), nil
	default:
		return store.NewSQLite(conns.sqlite), nil
	}
}

func openSink(ctx context.Context, cfg *config.AppConfig, conns *backends, logger zerolog.Logger) (notify.Sink, error) {
	switch cfg.Notify.OS {
	case "none":
		return nil, nil
	case "redis":
		client, err := redisClient(ctx, cfg, conns)
		if err != nil {
			return nil, err
		}
		return notify.NewRedisSink(client, cfg.Notify.RedisChannel), nil
	default:
		return notify.NewLogSink(logger.With().Str("component", "os-notify").Logger()), nil
	}
}

func redisClient(ctx context.Context, cfg *config.AppConfig, conns *backends) (*redis.Client, error) {
	if conns.redis != nil {
		return conns.redis, nil
	}
	client, err := db.NewRedisClient(ctx, db.RedisOptions{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	conns.redis = client
	return client, nil
}
