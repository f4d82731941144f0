// Package daemon wires the service together with fx.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/fanout"
	"github.com/hubescolar/whatsapp/internal/gateway"
	"github.com/hubescolar/whatsapp/internal/httpapi"
	"github.com/hubescolar/whatsapp/internal/ingest"
	"github.com/hubescolar/whatsapp/internal/lifecycle"
	"github.com/hubescolar/whatsapp/internal/lock"
	"github.com/hubescolar/whatsapp/internal/logging"
	"github.com/hubescolar/whatsapp/internal/qr"
	"github.com/hubescolar/whatsapp/internal/reaper"
	"github.com/hubescolar/whatsapp/internal/registry"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/store"
	"github.com/hubescolar/whatsapp/internal/wa"
)

// DeviceName is how linked sessions appear in the phone's device list.
const DeviceName = "HubEscolar"

// Params holds what the fx module is built from.
type Params struct {
	Config *config.Config
	// Factory overrides the WhatsApp transport; nil uses whatsmeow.
	Factory wa.Factory
	// Logger overrides the configured logger.
	Logger *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p, p.Config),
		fx.Provide(
			provideLayout,
			provideLogger,
			provideLock,
			provideStore,
			bus.New,
			registry.New,
			provideArtifactStore,
			provideProvisioner,
			provideFactory,
			provideController,
			provideGateway,
			provideIngest,
			provideReaper,
			provideHub,
			provideHTTP,
			provideHealth,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLayout(cfg *config.Config) session.Layout {
	return session.NewLayout(cfg.DataDir)
}

func provideLogger(p Params, cfg *config.Config, layout session.Layout) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.File = layout.LogPath()
	}
	return logging.New(logCfg, "whatsappd")
}

func provideLock(layout session.Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("path", layout.LockPath()))
	l, err := lock.Acquire(layout.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate one store.
func provideStore(cfg *config.Config, layout session.Layout, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	var (
		db  *store.DB
		err error
	)
	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN == "" {
		db, err = store.OpenSQLite(layout.AppDBPath())
	} else {
		db, err = store.Open(cfg.Database.Driver, cfg.Database.DSN)
	}
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
	logger.Info("store initialized", zap.String("driver", db.Driver()))
	return db, nil
}

func provideArtifactStore(cfg *config.Config, layout session.Layout) (qr.ArtifactStore, error) {
	if cfg.QR.Backend == "s3" {
		client, err := qr.NewS3Client(context.Background(), cfg.QR.S3)
		if err != nil {
			return nil, err
		}
		return qr.NewS3Store(client, cfg.QR.S3.Bucket, cfg.QR.S3.Prefix), nil
	}
	dir := cfg.QR.Dir
	if dir == "" {
		dir = layout.QRDir()
	}
	return qr.NewFileStore(dir), nil
}

func provideProvisioner(artifacts qr.ArtifactStore, cfg *config.Config, logger *zap.Logger) *qr.Provisioner {
	return qr.NewProvisioner(artifacts, cfg.QR.Size, logger)
}

func provideFactory(p Params, layout session.Layout, logger *zap.Logger) wa.Factory {
	if p.Factory != nil {
		return p.Factory
	}
	return wa.NewFactory(layout, DeviceName, logger)
}

func provideController(reg *registry.Registry, factory wa.Factory, prov *qr.Provisioner, b *bus.Bus, layout session.Layout, sink *ingest.Engine, logger *zap.Logger) *lifecycle.Controller {
	ctrl := lifecycle.New(reg, factory, prov, b, layout, logger)
	ctrl.SetSink(sink)
	return ctrl
}

func provideGateway(db *store.DB, ctrl *lifecycle.Controller, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(db, ctrl, b, cfg.Messages, cfg.DefaultSession, logger.Named("gateway"))
}

func provideIngest(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger)
}

func provideReaper(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *reaper.Reaper {
	return reaper.New(db, b, cfg.Messages.PendingTTL, cfg.Messages.ReaperInterval, logger)
}

func provideHub(b *bus.Bus, cfg *config.Config, logger *zap.Logger) *fanout.Hub {
	return fanout.NewHub(b, fanout.Options{OriginPatterns: cfg.HTTP.AllowedOrigins}, logger)
}

func provideHTTP(cfg *config.Config, ctrl *lifecycle.Controller, gw *gateway.Gateway, prov *qr.Provisioner, hub *fanout.Hub, db *store.DB, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(httpapi.Deps{
		Config:   cfg,
		Sessions: ctrl,
		Gateway:  gw,
		QR:       prov,
		Hub:      hub,
		Stats:    db,
		Logger:   logger,
	})
}

func provideHealth(cfg *config.Config, layout session.Layout, b *bus.Bus, logger *zap.Logger) (*HealthServer, error) {
	socket := cfg.Health.Socket
	if socket == "" {
		socket = layout.SocketPath()
	}
	return NewHealthServer(socket, b, logger)
}

type lifecycleDeps struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Layout     session.Layout
	Lock       *lock.Lock
	DB         *store.DB
	Controller *lifecycle.Controller
	Reaper     *reaper.Reaper
	Hub        *fanout.Hub
	HTTP       *httpapi.Server
	Health     *HealthServer
	Logger     *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	logger := d.Logger
	restoreCtx, cancelRestore := context.WithCancel(context.Background())
	d.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", d.Config.HTTP.Addr)
			if err != nil {
				return err
			}

			// Consumers subscribe before any session can emit.
			d.Hub.Start(context.Background())
			d.Reaper.Start(context.Background())
			d.Health.Start()

			go func() {
				logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
				if err := d.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", zap.Error(err))
					_ = d.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()

			if d.Config.RestoreSessions {
				ids, err := d.Layout.KnownSessions()
				if err != nil {
					logger.Warn("failed to list cached sessions", zap.Error(err))
				}
				if len(ids) > 0 {
					go func() {
						n := d.Controller.Restore(restoreCtx, ids)
						logger.Info("sessions restored", zap.Int("restored", n), zap.Int("known", len(ids)))
					}()
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelRestore()
			shutdownCtx, cancel := context.WithTimeout(ctx, d.Config.HTTP.ShutdownTimeout)
			defer cancel()
			if err := d.HTTP.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown", zap.Error(err))
			}
			d.Health.Stop(ctx)
			if err := d.Controller.Shutdown(ctx); err != nil {
				logger.Warn("session shutdown", zap.Error(err))
			}
			d.Reaper.Stop()
			d.Hub.Stop()
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
