package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/auth"
	"github.com/vovakirdan/wiremesh/internal/config"
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/store"
	"github.com/vovakirdan/wiremesh/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiremesh/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	audit           store.AuditStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	var audit store.AuditStore
	if cfg.AuditDBPath != "" {
		st, err := sqlite.New(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("init audit store: %w", err)
		}
		audit = st
		logger.Info().Str("db_path", cfg.AuditDBPath).Msg("audit log enabled")
	}

	var tickets *auth.Tickets
	if cfg.TicketsEnabled() {
		tickets = auth.NewTickets(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.TicketTTL)
		logger.Info().Dur("ttl", cfg.TicketTTL).Msg("join tickets required")
	}

	hub := core.NewHub(cfg.RoomCapacity, audit, logger)
	server := transporthttp.NewServer(hub, tickets, audit, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		audit:           audit,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("relay listening")
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

// cleanup closes the audit store.
func (a *App) cleanup() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close audit store")
		} else {
			a.log.Info().Msg("audit store closed")
		}
	}
}
