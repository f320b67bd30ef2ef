package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcmexdev/order-approvals/internal/config"
	"github.com/jcmexdev/order-approvals/internal/coordinator"
	"github.com/jcmexdev/order-approvals/internal/coordinator/auditlog"
	auditsqlite "github.com/jcmexdev/order-approvals/internal/coordinator/auditlog/sqlite"
	"github.com/jcmexdev/order-approvals/internal/enrichment"
	"github.com/jcmexdev/order-approvals/internal/fanout"
	"github.com/jcmexdev/order-approvals/internal/httpapi"
	"github.com/jcmexdev/order-approvals/internal/ingest"
	"github.com/jcmexdev/order-approvals/internal/ledger"
	"github.com/jcmexdev/order-approvals/internal/pkg/interceptors"
	"github.com/jcmexdev/order-approvals/internal/pkg/retry"
	"github.com/jcmexdev/order-approvals/internal/pkg/telemetry"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
	"github.com/jcmexdev/order-approvals/internal/registry"
	"github.com/jcmexdev/order-approvals/internal/tracking"
	"github.com/jcmexdev/order-approvals/internal/transport/telegram"
)

func main() {
	configPath := flag.String("config", os.Getenv("ORDER_NOTIFIER_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.InitLogger("info")
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("order notifier stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("order notifier stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdown, err := telemetry.SetupTracer(ctx, telemetry.TracerConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
		Disabled:    !cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	checks := map[string]httpapi.HealthCheck{}

	store, feed, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer store.Close()

	track, closeTracking, err := openTracking(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeTracking()

	audit, closeAudit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	api, err := telegram.NewAPI(cfg.Telegram.Token, cfg.Telegram.Endpoint, nil)
	if err != nil {
		return err
	}

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  2,
	}

	directory := registry.NewDirectory()
	registrations := registry.NewService(directory, store)
	notifier := fanout.New(directory, track, telegram.NewMessenger(api), cfg.Fanout.MaxParallel)
	coord := coordinator.New(coordinator.Deps{
		Orders:   store,
		Ledger:   ledger.New(store),
		Tracking: track,
		Notifier: notifier,
		Audit:    audit,
		Retry:    retryCfg,
	})

	consumer := ingest.NewConsumer(feed, enrichment.NewResolver(store), coord, ingest.Config{
		Table:            recordstore.LineItemsTable,
		MaxInFlight:      cfg.Feed.MaxInFlight,
		ResubscribeDelay: cfg.Feed.ResubscribeDelay,
	})
	bot := telegram.NewBot(api, registrations, coord, cfg.Telegram.PollTimeout)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(registrations, coord, checks)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptor()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPC.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The feed subscription failing at startup is the one fatal condition.
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx) })

	g.Go(func() error {
		slog.Info("http server running", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		slog.Info("grpc admin server running", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, checks map[string]httpapi.HealthCheck) (recordstore.Store, recordstore.Feed, error) {
	if cfg.Store.Driver == config.DriverMemory {
		slog.Warn("using in-memory record store, data is lost on exit")
		mem := recordstore.NewMemory()
		return mem, mem, nil
	}

	pg, err := recordstore.OpenPostgres(ctx, cfg.Store.DSN, recordstore.PoolConfig{
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.EnsureSchema {
		if err := pg.EnsureSchema(ctx, cfg.Feed.Channel); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	checks["store"] = func(ctx context.Context) error { return pg.DB().PingContext(ctx) }

	feed := recordstore.NewPostgresFeed(pg.DB(), recordstore.FeedConfig{
		DSN:          cfg.Store.DSN,
		Channel:      cfg.Feed.Channel,
		MinReconnect: cfg.Feed.MinReconnect,
		MaxReconnect: cfg.Feed.MaxReconnect,
		PingInterval: cfg.Feed.PingInterval,
		CatchUpLimit: cfg.Feed.CatchUpLimit,
	})
	return pg, feed, nil
}

func openTracking(ctx context.Context, cfg *config.Config, checks map[string]httpapi.HealthCheck) (tracking.Store, func(), error) {
	if cfg.Tracking.Backend == config.BackendMemory {
		return tracking.NewMemory(), func() {}, nil
	}

	r := tracking.NewRedis(cfg.Tracking.RedisAddr, cfg.Tracking.Namespace, cfg.Tracking.Retention)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Tracking.RedisAddr, err)
	}
	checks["redis"] = r.Ping
	return r, func() { _ = r.Close() }, nil
}

func openAudit(cfg *config.Config) (auditlog.Repository, func(), error) {
	if cfg.Audit.Path == "" {
		return auditlog.Nop{}, func() {}, nil
	}
	repo, err := auditsqlite.Open(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { _ = repo.Close() }, nil
}
