package daemon

import (
	"context"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/chansync"
	"github.com/aushilfapp/chatsync/internal/chatinit"
	"github.com/aushilfapp/chatsync/internal/chatview"
	"github.com/aushilfapp/chatsync/internal/config"
	"github.com/aushilfapp/chatsync/internal/identity"
	"github.com/aushilfapp/chatsync/internal/lock"
	"github.com/aushilfapp/chatsync/internal/logging"
	"github.com/aushilfapp/chatsync/internal/outbox"
	"github.com/aushilfapp/chatsync/internal/profile"
	"github.com/aushilfapp/chatsync/internal/realtime"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/status"
	"github.com/aushilfapp/chatsync/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.aushilf/config.toml
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
			providePool,
			provideIdentity,
			provideRemote,
			provideView,
			provideSyncer,
			provideDispatcher,
			provideSource,
			provideListener,
			provideInitializer,
			provideSessionService,
			provideSyncService,
			provideChatService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so a second daemon never opens the mirror.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.ChatDBPath(p.ProfileName)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// providePool opens the remote pool lazily; no connection is made until
// the first query, so the daemon starts offline.
func providePool(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := remote.Connect(context.Background(), cfg.Remote)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func provideIdentity(cfg *config.Config) identity.Provider {
	return identity.FromConfig(cfg.Identity)
}

func provideRemote(pool *pgxpool.Pool, id identity.Provider, logger *zap.Logger) *remote.Client {
	return remote.New(pool, id, logger.Named("remote"))
}

func provideView() *chatview.View {
	return chatview.New()
}

func provideSyncer(cfg *config.Config, db *store.DB, rc *remote.Client, view *chatview.View, id identity.Provider, b *bus.Bus, logger *zap.Logger) *chansync.Syncer {
	return chansync.New(db, rc, view, id, b, logger.Named("sync"), chansync.Options{
		Cooldown:    cfg.Sync.ChannelSyncCooldown.Duration,
		ChannelPage: cfg.Sync.ChannelPage,
		MessagePage: cfg.Sync.MessagePage,
	})
}

func provideDispatcher(cfg *config.Config, db *store.DB, rc *remote.Client, m *status.Machine, view *chatview.View, syncer *chansync.Syncer, id identity.Provider, b *bus.Bus, logger *zap.Logger) *outbox.Dispatcher {
	return outbox.NewDispatcher(db, rc, m, view, syncer, id.UserID, b, logger.Named("outbox"), outbox.Options{
		Interval: cfg.Sync.OutboxInterval.Duration,
		Batch:    cfg.Sync.OutboxBatch,
	})
}

// provideSource returns nil when realtime is switched off.
func provideSource(cfg *config.Config, b *bus.Bus, logger *zap.Logger) realtime.Source {
	logger = logger.Named("realtime")
	switch cfg.Realtime.Mode {
	case config.RealtimeWebsocket:
		return realtime.NewWSSource(cfg.Realtime.WebsocketURL, cfg.Identity.AccessToken, b, logger)
	case config.RealtimePostgres:
		return realtime.NewPGSource(cfg.Remote.DatabaseURL, cfg.Realtime.Channel, b, logger)
	}
	return nil
}

func provideListener(src realtime.Source, db *store.DB, view *chatview.View, syncer *chansync.Syncer, id identity.Provider, b *bus.Bus, logger *zap.Logger) *realtime.Listener {
	if src == nil {
		return nil
	}
	return realtime.NewListener(db, view, syncer, src, id, b, logger.Named("realtime"))
}

func provideInitializer(db *store.DB, rc *remote.Client, d *outbox.Dispatcher, view *chatview.View, id identity.Provider, b *bus.Bus, logger *zap.Logger) *chatinit.Initializer {
	return chatinit.New(db, rc, d, view, id, b, logger.Named("chatinit"))
}

func provideSessionService(p Params, m *status.Machine, id identity.Provider, db *store.DB, view *chatview.View, l *realtime.Listener) *api.SessionService {
	var live api.Liveness
	if l != nil {
		live = l
	}
	return api.NewSessionService(p.ProfileName, m, id, db, view, live)
}

func provideSyncService(syncer *chansync.Syncer, d *outbox.Dispatcher, id identity.Provider) *api.SyncService {
	return api.NewSyncService(syncer, d, id)
}

func provideChatService(db *store.DB, view *chatview.View, syncer *chansync.Syncer, in *chatinit.Initializer, rc *remote.Client, id identity.Provider, b *bus.Bus) *api.ChatService {
	return api.NewChatService(db, view, syncer, in, rc, id, b)
}

func provideMessageService(db *store.DB, d *outbox.Dispatcher) *api.MessageService {
	return api.NewMessageService(db, d)
}

type lifecycleParams struct {
	fx.In

	Server     *Server
	Lock       *lock.Lock
	DB         *store.DB
	Syncer     *chansync.Syncer
	Dispatcher *outbox.Dispatcher
	Listener   *realtime.Listener
	Machine    *status.Machine
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	ctx, cancel := context.WithCancel(context.Background())
	var stopWatch func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			stopWatch = resyncOnReconnect(ctx, lp.Bus, lp.Syncer)
			lp.Dispatcher.Start(ctx)

			if _, err := lp.Syncer.RefreshView(ctx); err != nil {
				logger.Warn("initial channel list failed", zap.Error(err))
			}
			if lp.Listener != nil {
				if err := lp.Listener.Start(ctx); err != nil {
					logger.Warn("realtime listener not started", zap.Error(err))
				}
			}

			if err := lp.Machine.Transition(status.Foreground); err != nil {
				return err
			}
			go lp.Syncer.Trigger(ctx)

			lp.Server.SetServing(true)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			lp.Server.SetServing(false)
			cancel()
			if lp.Listener != nil {
				lp.Listener.Stop()
			}
			if stopWatch != nil {
				stopWatch()
			}
			lp.Dispatcher.Stop()
			lp.Server.Stop(stopCtx)
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// resyncOnReconnect runs a channel sync whenever the push source comes
// back, picking up whatever was missed while it was down.
func resyncOnReconnect(ctx context.Context, b *bus.Bus, syncer *chansync.Syncer) func() {
	ch, unsub := b.Subscribe(bus.KindRealtimeStatus, 16)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case evt := <-ch:
				if st, ok := evt.Payload.(realtime.Status); ok && st.Connected {
					syncer.Trigger(ctx)
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		unsub()
		close(stop)
		<-done
	}
}
