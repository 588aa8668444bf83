package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/api"
	"github.com/matheus3301/rosterd/internal/avatar"
	"github.com/matheus3301/rosterd/internal/bus"
	"github.com/matheus3301/rosterd/internal/config"
	"github.com/matheus3301/rosterd/internal/lock"
	"github.com/matheus3301/rosterd/internal/logging"
	"github.com/matheus3301/rosterd/internal/reconcile"
	"github.com/matheus3301/rosterd/internal/roster"
	"github.com/matheus3301/rosterd/internal/rosterfile"
	"github.com/matheus3301/rosterd/internal/session"
	"github.com/matheus3301/rosterd/internal/status"
	"github.com/matheus3301/rosterd/internal/store"
	"github.com/matheus3301/rosterd/internal/wa"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // nil = load ~/.rosterd/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGraph,
			provideAvatars,
			provideRegistry,
			provideEngine,
			provideRosterFiles,
			provideAdapter,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = session.GraphDBPath(p.SessionName)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGraph(db *store.DB, cfg *config.Config) *store.Graph {
	return store.NewGraph(db, cfg.Engine.BindingLimit)
}

func provideAvatars(p Params) *avatar.Store {
	return avatar.NewStore(session.AvatarDir(p.SessionName))
}

func provideRegistry(b *bus.Bus) *roster.Registry {
	return roster.NewRegistry(b)
}

func provideEngine(cfg *config.Config, reg *roster.Registry, g *store.Graph, db *store.DB, b *bus.Bus, m *status.Machine, avatars *avatar.Store, logger *zap.Logger) *reconcile.Engine {
	return reconcile.New(reconcile.Config{
		Debounce:       cfg.Engine.Debounce.Duration,
		MaxPending:     cfg.Engine.MaxPending,
		BindingLimit:   cfg.Engine.BindingLimit,
		Generator:      cfg.Engine.Generator,
		RetryAttempts:  cfg.Retry.Attempts,
		RetryBaseDelay: cfg.Retry.BaseDelay.Duration,
	}, reconcile.Deps{
		Source:      reg,
		Store:       g,
		Bus:         b,
		Status:      m,
		Avatars:     avatars,
		Checkpoints: db,
		Logger:      logger,
	})
}

func provideRosterFiles(p Params, cfg *config.Config, reg *roster.Registry, logger *zap.Logger) *rosterfile.Source {
	dir := cfg.Sources.RosterDir
	if dir == "" {
		dir = session.RosterDir(p.SessionName)
	}
	return rosterfile.New(dir, reg, logger, 0)
}

// provideAdapter returns nil when the WhatsApp source is disabled.
func provideAdapter(p Params, cfg *config.Config, b *bus.Bus, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	if !cfg.Sources.WhatsApp {
		return nil, nil
	}
	return wa.NewAdapter(context.Background(), session.WhatsAppDBPath(p.SessionName), b, logger)
}

func provideSyncService(p Params, engine *reconcile.Engine, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(engine, db, b, m, p.SessionName, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	engine *reconcile.Engine,
	files *rosterfile.Source,
	adapter *wa.Adapter,
	reg *roster.Registry,
	machine *status.Machine,
	logger *zap.Logger,
) {
	var handler *wa.EventHandler

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine subscribes before any source publishes.
			engine.Start(context.Background())

			if err := files.Start(context.Background()); err != nil {
				return fmt.Errorf("start roster files: %w", err)
			}

			if adapter != nil {
				handler = wa.NewEventHandler(reg, adapter, logger)
				adapter.RegisterEventHandler(handler.Handle)
				if adapter.IsLoggedIn() {
					go func() {
						if err := adapter.Connect(); err != nil {
							logger.Error("WhatsApp auto-connect failed", zap.Error(err))
						}
					}()
				} else {
					logger.Warn("WhatsApp source enabled but not paired; run rosterd --pair")
				}
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := engine.Reconcile(context.Background()); err != nil {
				_ = machine.Transition(status.Error)
				return fmt.Errorf("start reconciliation: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if adapter != nil {
				adapter.Disconnect()
			}
			if handler != nil {
				handler.Close()
			}
			files.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
