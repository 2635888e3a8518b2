package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quill/api/internal/app"
	"quill/api/internal/cache"
	"quill/api/internal/config"
	"quill/api/internal/logging"
	"quill/api/internal/search"
	"quill/api/internal/session"
	"quill/api/internal/store"
)

// postBackend is what both the Postgres and Mongo stores offer for posts.
type postBackend interface {
	FindPost(ctx context.Context, postID string) (store.Post, error)
	InsertPost(ctx context.Context, post store.Post) (store.Post, error)
	UpdatePost(ctx context.Context, postID, ownerID string, patch store.PostPatch) (store.Post, error)
	DeletePost(ctx context.Context, postID, ownerID string) (bool, error)
	ListPosts(ctx context.Context, limit int) ([]store.Post, error)
	ListPostsByOwner(ctx context.Context, ownerID string) ([]store.Post, error)
	SearchPosts(ctx context.Context, text string, limit, offset int) ([]store.Post, error)
	ScanPosts(ctx context.Context, batch int, fn func([]store.Post) error) error
	Ping(ctx context.Context) error
}

type sessionBackend interface {
	SaveSession(ctx context.Context, jti, userID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, jti string) (string, error)
	RevokeSession(ctx context.Context, jti string) error
	Ping(ctx context.Context) error
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// backends holds every open connection so serve and reindex can share setup.
type backends struct {
	db      *sql.DB
	users   *store.PostgresStore
	posts   postBackend
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	b := &backends{db: db, closers: []func(){func() { _ = db.Close() }}}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, name := range applied {
		logger.Info("applied migration", "file", name)
	}

	b.users = store.NewPostgresStore(db, cfg.StoreTimeout)
	b.posts = b.users

	if cfg.PostStore == config.PostStoreMongo {
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.StoreTimeout)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoStore.Close(shutdownCtx)
		})
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			b.close()
			return nil, err
		}
		b.posts = mongoStore
	}
	logger.Info("post store ready", "backend", cfg.PostStore)
	return b, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	var sessions sessionBackend = b.users
	var views cache.Views = cache.Nop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, using postgres sessions and no view cache", "error", err)
		} else {
			defer redisStore.Close()
			sessions = redisStore
			views = cache.NewRedisViews(redisStore.Client(), cfg.ViewTTL)
			logger.Info("using redis for sessions and view cache")
		}
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, b.posts, logger)
	defer searchService.Close()

	service := app.New(cfg, b.posts, b.users, sessions, views, searchService, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.CookieSecure, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("quill api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
