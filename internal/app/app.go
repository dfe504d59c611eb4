// Package app wires all Cadenza subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the store,
// session manager, generator and transport; Run serves until the context
// ends; Shutdown finalizes live sessions and tears subsystems down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithGenerator). When an option is not provided, New builds real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/config"
	"github.com/cadenza-coach/cadenza/internal/health"
	"github.com/cadenza-coach/cadenza/internal/observe"
	"github.com/cadenza-coach/cadenza/internal/resilience"
	"github.com/cadenza-coach/cadenza/internal/server"
	"github.com/cadenza-coach/cadenza/internal/session"
	"github.com/cadenza-coach/cadenza/internal/store"
	"github.com/cadenza-coach/cadenza/internal/store/memstore"
	"github.com/cadenza-coach/cadenza/internal/store/postgres"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store   store.Store
	gen     coach.Generator
	manager *session.Manager
	server  *server.Server
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of building one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithGenerator injects a feedback generator instead of building one from the
// config registry.
func WithGenerator(g coach.Generator) Option {
	return func(a *App) { a.gen = g }
}

// WithMetrics injects observability instruments. Default: the process-wide
// instrument set.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The registry supplies
// generator factories (populated by main); an empty coach provider means the
// app runs on deterministic fallback feedback only.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initGenerator(reg); err != nil {
		return nil, fmt.Errorf("app: init generator: %w", err)
	}
	a.initManager()
	a.initServer()

	return a, nil
}

// initStore builds the persistence backend named by the config.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		pg, err := postgres.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		slog.Info("postgres store ready")
	default:
		a.store = memstore.New()
		slog.Info("in-memory store ready")
	}
	return nil
}

// initGenerator builds the feedback generator from the registry, if a coach
// provider is configured.
func (a *App) initGenerator(reg *config.Registry) error {
	if a.gen != nil || a.cfg.Coach.Provider == "" || reg == nil {
		return nil
	}

	g, err := reg.CreateGenerator(a.cfg.Coach)
	if err != nil {
		return fmt.Errorf("create generator %q: %w", a.cfg.Coach.Provider, err)
	}
	a.gen = g
	slog.Info("feedback generator ready",
		"provider", a.cfg.Coach.Provider,
		"model", a.cfg.Coach.Model)
	return nil
}

// initManager assembles the session manager over the store and generator.
func (a *App) initManager() {
	maxFailures := a.cfg.Coach.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "coach-generator",
		MaxFailures: maxFailures,
	})

	mopts := []session.ManagerOption{
		session.WithMetrics(a.metrics),
		session.WithBreaker(a.breaker),
		session.WithGeneratorTimeout(a.cfg.Coach.Timeout.Std()),
		session.WithHistoryLimit(a.cfg.Coach.HistoryLimit),
		session.WithMaxFragmentBytes(a.cfg.Analysis.MaxFragmentBytes),
		session.WithFillerWords(a.cfg.Analysis.FillerWords),
	}
	if a.gen != nil {
		mopts = append(mopts, session.WithGenerator(a.gen))
	}
	a.manager = session.NewManager(a.store, mopts...)
}

// initServer assembles the transport and registers it as the manager's sink.
func (a *App) initServer() {
	var pinger health.Pinger
	if pg, ok := a.store.(*postgres.Store); ok {
		pinger = pg
	}
	h := health.New(
		health.StorageChecker(pinger),
		health.GeneratorChecker(a.breaker),
	)

	sopts := []server.Option{
		server.WithListenAddr(a.cfg.Server.ListenAddr),
		server.WithHealth(h),
		server.WithMetrics(a.metrics),
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		sopts = append(sopts, server.WithTLS(tls.CertFile, tls.KeyFile))
	}
	a.server = server.New(a.manager, a.store, sopts...)
	a.manager.SetEmitter(a.server)
}

// Manager exposes the session manager, mainly for config hot-reload hooks.
func (a *App) Manager() *session.Manager { return a.manager }

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"storage", string(a.cfg.Storage.Driver),
		"coach_provider", a.cfg.Coach.Provider)
	return a.server.Run(ctx)
}

// Shutdown finalizes every live session, then tears subsystems down in
// reverse-init order. Respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.manager.ActiveCount())

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "error", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
