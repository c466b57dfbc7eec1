package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v2"
	"golang.org/x/sync/errgroup"

	delivery "github.com/linkloom/linkloom/internal/adapter/delivery/http"
	"github.com/linkloom/linkloom/internal/adapter/events"
	"github.com/linkloom/linkloom/internal/adapter/repository/postgres"
	"github.com/linkloom/linkloom/internal/adapter/repository/rediscache"
	"github.com/linkloom/linkloom/internal/config"
	"github.com/linkloom/linkloom/internal/entity"
	"github.com/linkloom/linkloom/internal/usecase"
	"github.com/linkloom/linkloom/pkg/keylock"
	pg "github.com/linkloom/linkloom/pkg/postgres"
)

// linkResolver is the redirect read path handed to the link use case. It
// is restated here so the cache decorator can serve redirect reads while
// every mutating flow keeps reading the raw store. A redirect racing a
// locked mutation may refill the cache with a state the mutation is about
// to supersede; routing mutation reads around the cache keeps that stale
// entry out of version snapshots.
type linkResolver interface {
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error)
	RegisterClick(ctx context.Context, shortCode string) error
}

func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	db, err := pg.New(
		ctx,
		cfg.Postgres.DSN(),
		pg.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		pg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		pg.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		pg.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}
	defer db.Close()

	if err := pg.RunMigrations("file://migrations", cfg.Postgres.DSN()); err != nil {
		return fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	logger := httplog.NewLogger("linkloom", httplog.Options{
		LogLevel: logLevel(cfg.Env),
		JSON:     cfg.Env == config.EnvProd,
		Concise:  cfg.Env != config.EnvProd,
	})

	linkRepo := postgres.NewLinkRepository(db)

	var resolver linkResolver = linkRepo
	if cfg.Redis.URL != "" {
		cache, err := rediscache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("%s: failed to connect to redis: %w", op, err)
		}
		defer cache.Close()

		resolver = rediscache.NewLinkRepository(linkRepo, cache, cfg.Redis.TTL)
	}

	versionRepo := postgres.NewVersionRepository(db)
	locks := keylock.New()
	versionLog := usecase.NewVersionLog(linkRepo, versionRepo, locks)

	var linkUseCase *usecase.LinkUseCase

	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewPublisher(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("%s: failed to connect to rabbitmq: %w", op, err)
		}
		defer publisher.Close()

		linkUseCase = usecase.NewLinkUseCase(linkRepo, resolver, versionLog, locks, publisher, cfg.ShortCodeLength)
	} else {
		linkUseCase = usecase.NewLinkUseCase(linkRepo, resolver, versionLog, locks, nil, cfg.ShortCodeLength)
	}

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        delivery.NewRouter(logger, linkUseCase, versionLog),
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}

func logLevel(env string) slog.Level {
	switch env {
	case config.EnvProd:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
