// Package app wires the agent together: credential store, identity
// provider client, session service, realtime channels, request gateway,
// and the localhost HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/gateway"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/logger"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/provider"
	redisinfra "github.com/sebastianstn/pdms-v6-sub002/internal/infra/redis"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/telemetry"
	"github.com/sebastianstn/pdms-v6-sub002/internal/realtime"
	boltrepo "github.com/sebastianstn/pdms-v6-sub002/internal/repository/bolt"
	"github.com/sebastianstn/pdms-v6-sub002/internal/repository/memory"
	redisrepo "github.com/sebastianstn/pdms-v6-sub002/internal/repository/redis"
	"github.com/sebastianstn/pdms-v6-sub002/internal/transport/http/routes"
	"github.com/sebastianstn/pdms-v6-sub002/internal/usecase"
)

// Application holds the wired agent and its teardown hooks.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	sessions *usecase.SessionService
	channels *realtime.Manager
	gateway  *gateway.Gateway
	redis    *redisinfra.Client
	bolt     *boltrepo.CredentialStore
}

// New builds the application from config. A session persisted by a
// previous run is restored before the surface starts serving.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.Attach(cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}

	store, err := app.openCredentialStore(cfg, log)
	if err != nil {
		return nil, err
	}

	idp := provider.NewClient(cfg.Provider, log)

	sessions := usecase.NewSessionService(store, idp, metrics, log).
		WithDegradedProofKey(cfg.Provider.AllowDegradedProofKey)
	if err := sessions.RestoreFromStorage(ctx); err != nil {
		log.Warn("session restore failed, starting anonymous", zap.Error(err))
	}
	app.sessions = sessions

	app.channels = realtime.NewManager(&cfg.Realtime, sessions, metrics, log)
	app.gateway = gateway.New(&cfg.Gateway, sessions, metrics, log)

	app.engine = routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Sessions: sessions,
		Channels: app.channels,
		Cache:    cacheChecker(app.redis),
	})

	return app, nil
}

func (a *Application) openCredentialStore(cfg *config.AppConfig, log *zap.Logger) (port.CredentialStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendBolt:
		if dir := filepath.Dir(cfg.Storage.BoltPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := boltrepo.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("init bolt storage: %w", err)
		}
		a.bolt = store
		log.Info("credential storage ready", zap.String("backend", "bolt"), zap.String("path", cfg.Storage.BoltPath))
		return store, nil

	case config.StorageBackendRedis:
		client, err := redisinfra.NewClient(cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
		log.Info("credential storage ready", zap.String("backend", "redis"))
		return redisrepo.NewCredentialStore(client.Client(), cfg.Redis.KeyPrefix, cfg.Redis.CredentialTTL), nil

	case config.StorageBackendMemory:
		log.Info("credential storage ready", zap.String("backend", "memory"))
		return memory.NewCredentialStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Sessions exposes the session service to embedding code.
func (a *Application) Sessions() *usecase.SessionService {
	return a.sessions
}

// Channels exposes the realtime manager to embedding code.
func (a *Application) Channels() *realtime.Manager {
	return a.channels
}

// Gateway exposes the request gateway to embedding code.
func (a *Application) Gateway() *gateway.Gateway {
	return a.gateway
}

// Run serves the agent surface until ctx is cancelled, then tears the
// agent down. The persisted credential survives shutdown; only the
// renewal timer and sockets are stopped.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.bolt != nil {
			_ = a.bolt.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer a.sessions.Dispose()
	defer a.channels.Shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting agent surface",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// cacheChecker keeps the routes dependency nil when redis is not in play.
func cacheChecker(client *redisinfra.Client) routes.CacheChecker {
	if client == nil {
		return nil
	}
	return client
}
