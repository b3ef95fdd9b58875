package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/auth"
	"github.com/avdeyev/chatline/internal/config"
	"github.com/avdeyev/chatline/internal/core"
	"github.com/avdeyev/chatline/internal/metrics"
	"github.com/avdeyev/chatline/internal/store"
	"github.com/avdeyev/chatline/internal/store/sqlite"
	transporthttp "github.com/avdeyev/chatline/internal/transport/http"
)

// App wires together the sync core, persistence, and transport layers.
type App struct {
	server          *stdhttp.Server
	monitor         *core.Monitor
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	m := metrics.New()
	registry := core.NewRegistry(m)
	broadcaster := core.NewBroadcaster(registry, logger, m)
	registry.SetEdgeHooks(core.NewTracker(st, broadcaster, logger).Hooks())
	monitor := core.NewMonitor(registry, logger, m, cfg.HeartbeatInterval)
	inbound := core.NewInboundHandler(st, broadcaster, logger, m)

	server := transporthttp.NewServer(cfg, transporthttp.Deps{
		Registry:    registry,
		Inbound:     inbound,
		Broadcaster: broadcaster,
		AuthService: authService,
		Store:       st,
		Metrics:     m,
		Log:         logger,
	})

	return &App{
		server:          server,
		monitor:         monitor,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and liveness monitor, blocking until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.monitor.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
