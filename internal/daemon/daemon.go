package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seednet/seednet/internal/api"
	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/health"
	"github.com/seednet/seednet/internal/infra/network"
	"github.com/seednet/seednet/internal/infra/seeddb"
	"github.com/seednet/seednet/internal/infra/sqlite"
	"github.com/seednet/seednet/internal/infra/transport"
	"github.com/seednet/seednet/internal/security"
)

// ProtocolVersion is announced in the self record.
const ProtocolVersion = 1.0

// Daemon is the seednet node runtime. It wires together all services.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Keypair *security.Keypair
	Network *network.Network
	Health  *health.Checker
	Server  *api.Server
	Logger  *zap.Logger

	clock  clock.Clock
	cancel context.CancelFunc
}

// New creates a Daemon from $SEEDNET_HOME/config.toml.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newDaemon(cfg, clock.New(), logger)
}

func newDaemon(cfg Config, clk clock.Clock, logger *zap.Logger) (*Daemon, error) {
	home := cfg.HomeDir()
	d := &Daemon{Config: cfg, Logger: logger, clock: clk}

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d.DB = db

	dir, err := openDirectory(cfg, db, logger)
	if err != nil {
		return nil, multierr.Append(err, d.Close())
	}

	kp, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("load keypair: %w", err), d.Close())
	}
	d.Keypair = kp

	self := selfRecord(cfg, kp.PeerID(), dir.Self(), clk.Now())
	if err := dir.SetSelf(self); err != nil {
		return nil, multierr.Append(fmt.Errorf("install self: %w", err), d.Close())
	}
	if err := db.SetNodeInfo("peer_id", string(self.ID)); err != nil {
		logger.Warn("record peer id failed", zap.Error(err))
	}

	tr := transport.New(cfg.TransportConfig(), nil, logger)
	d.Network = network.New(cfg.NetworkConfig(), dir, db, tr, clk, logger)

	opts := health.Options{
		DB:        db,
		Directory: dir,
		DataDir:   home,
		Clock:     clk,
		Logger:    logger,
	}
	if cfg.Network.Enabled && len(cfg.Network.Bootstrap) > 0 {
		opts.Rejoin = d.Network.Bootstrap
	}
	d.Health = health.NewChecker(opts)

	d.Server = api.NewServer(d.Network, clk, logger)
	d.Server.SetHealth(d.Health)
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	logger.Info("node ready",
		zap.String("peer", string(self.ID)),
		zap.String("name", self.Name),
		zap.String("home", home),
		zap.Int("connected", dir.Size(seeddb.Connected)))
	return d, nil
}

// openDirectory builds the peer directory over the sqlite seed tables, each
// fronted by a decoded-seed cache.
func openDirectory(cfg Config, db *sqlite.DB, logger *zap.Logger) (*seeddb.Directory, error) {
	table := func(name string) (seeddb.Table, error) {
		t, err := db.SeedTable(name)
		if err != nil {
			return nil, err
		}
		return seeddb.NewCachedTable(t, cfg.Storage.CacheSize)
	}
	var (
		tables seeddb.Tables
		err    error
	)
	if tables.Connected, err = table(sqlite.TableConnected); err != nil {
		return nil, err
	}
	if tables.Disconnected, err = table(sqlite.TableDisconnected); err != nil {
		return nil, err
	}
	if tables.Potential, err = table(sqlite.TablePotential); err != nil {
		return nil, err
	}
	dir, err := seeddb.New(seeddb.Config{LookupCacheSize: cfg.Storage.CacheSize}, tables, db, logger)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	return dir, nil
}

// selfRecord builds the local peer record. Counters of a stored record with
// the same id carry over; everything configurable is taken from cfg.
func selfRecord(cfg Config, id domain.ID, stored *domain.Peer, now time.Time) *domain.Peer {
	self := &domain.Peer{ID: id, BirthDate: now.UTC()}
	if stored != nil && stored.ID == id {
		self = stored.Clone()
	}
	self.Name = cfg.Node.Name
	if self.Name == "" {
		if host, err := os.Hostname(); err == nil {
			self.Name = host
		} else {
			self.Name = id.Short()
		}
	}
	self.Port = cfg.AdvertisedPort()
	self.Class = domain.ParsePeerClass(cfg.Node.Class)
	self.Version = ProtocolVersion
	self.Tags = cfg.Node.Tags
	self.Flags = self.Flags.
		With(domain.FlagAcceptRemoteIndex, cfg.Node.AcceptRemoteIndex).
		With(domain.FlagAcceptRemoteCrawl, false)
	self.LastSeen = now.UTC()
	self.UTCOffset = now.Format("-0700")
	return self
}

// NewLogger builds the root logger. Development mode logs to the console
// encoder, otherwise JSON.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level: %w", err)
		}
		zc.Level = level
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Addr is the listen address of the HTTP server.
func (d *Daemon) Addr() string {
	return net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
}

// Serve runs the HTTP server, the network cycles and the health checker
// until ctx is cancelled or the process receives SIGINT or SIGTERM.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	httpServer := &http.Server{
		Addr:         d.Addr(),
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return d.Network.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		d.Logger.Info("serving",
			zap.String("addr", d.Addr()),
			zap.Bool("network", d.Config.Network.Enabled),
			zap.Bool("metrics", d.Config.Telemetry.Prometheus))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Network != nil {
		d.Network.Stop()
	}
	var err error
	if d.DB != nil {
		err = multierr.Append(err, d.DB.Close())
	}
	if d.Logger != nil {
		// Sync fails on a console stderr; the result is advisory.
		_ = d.Logger.Sync()
	}
	return err
}
