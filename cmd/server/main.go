// Command pinlock-server starts the pinlock gRPC server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/pinlock/internal/audit"
	"github.com/and161185/pinlock/internal/config"
	pkgcrypto "github.com/and161185/pinlock/internal/crypto"
	"github.com/and161185/pinlock/internal/gate"
	"github.com/and161185/pinlock/internal/lockout"
	"github.com/and161185/pinlock/internal/migrate"
	"github.com/and161185/pinlock/internal/repository"
	"github.com/and161185/pinlock/internal/repository/postgres"
	"github.com/and161185/pinlock/internal/repository/sqlite"
	grpcserver "github.com/and161185/pinlock/internal/server/grpc"
	"github.com/and161185/pinlock/internal/service"
	"github.com/and161185/pinlock/internal/session"
	"github.com/and161185/pinlock/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type store struct {
	settings repository.SettingsRepository
	events   repository.EventRepository
	close    func()
}

// openStore runs migrations and opens the configured backend.
func openStore(ctx context.Context, cfg config.Store) (*store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &store{
			settings: postgres.NewSettingsRepo(db),
			events:   postgres.NewEventRepo(db),
			close:    db.Close,
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := migrate.UpDB(ctx, db, goose.DialectSQLite3); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		return &store{
			settings: sqlite.NewSettingsRepo(db),
			events:   sqlite.NewEventRepo(db),
			close:    func() { _ = db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// main loads configuration, opens the store and serves gRPC until SIGINT/SIGTERM.
func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("pinlock-server %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log level:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPC.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.close()

	// Security event log
	events := audit.New(st.events,
		audit.WithLogger(logger.Named("audit")),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithEnqueueTimeout(cfg.Audit.EnqueueTimeout),
		audit.WithWriteTimeout(cfg.Store.Timeout),
		audit.WithRetry(cfg.Audit.RetryBase, cfg.Audit.RetryMax),
		audit.WithAlertInterval(cfg.Audit.AlertInterval),
	)

	sessions := session.NewManager(
		session.WithTickInterval(cfg.Session.TickInterval),
		session.WithLogger(logger.Named("session")),
		session.WithEventSink(events),
	)

	hasher := pkgcrypto.NewHasher(pkgcrypto.Params{
		Time:    cfg.Argon.Time,
		Memory:  cfg.Argon.MemKiB,
		Threads: cfg.Argon.Threads,
	})
	policy := lockout.Policy{
		MaxFailedAttempts: cfg.Policy.MaxFailedAttempts,
		LockoutDuration:   cfg.Policy.LockoutDuration,
	}
	g := gate.New(st.settings, hasher, policy, events,
		gate.WithSessions(sessions),
		gate.WithStoreTimeout(cfg.Store.Timeout),
		gate.WithLogger(logger.Named("gate")),
	)
	svc := service.NewSecurityService(g, st.settings, st.events, sessions, cfg.Store.Timeout)

	// gRPC server with interceptors
	var opts []grpc.ServerOption
	if cfg.GRPC.TLS() {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.CertFile, cfg.GRPC.KeyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled: GRPC_TLS_CERT/GRPC_TLS_KEY not set")
	}
	tokens := token.NewIssuer([]byte(cfg.JWT.Secret), cfg.JWT.TTL)
	s := grpcserver.NewGRPCServer(logger.Named("grpc"), tokens, opts...)
	grpcserver.RegisterSessionLockServer(s, grpcserver.New(svc))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.GRPC.Addr), zap.Bool("tls", cfg.GRPC.TLS()))
		errCh <- s.Serve(lis)
	}()

	exit := 0
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.GRPC.ShutdownTimeout):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	// stop idle watchers before draining the event log
	sessions.Shutdown()
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Audit.DrainTimeout)
	defer cancel()
	if err := events.Close(drainCtx); err != nil {
		logger.Error("security event log drain", zap.Error(err))
	}
	logger.Info("shutdown complete", zap.Any("audit", events.Stats()))
	if exit != 0 {
		st.close()
		os.Exit(exit)
	}
}
