package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"appointment-booking-api/internal/auth"
	"appointment-booking-api/internal/booking"
	"appointment-booking-api/internal/config"
	"appointment-booking-api/internal/events"
	"appointment-booking-api/internal/handler"
	"appointment-booking-api/internal/health"
	"appointment-booking-api/internal/logger"
	"appointment-booking-api/internal/metrics"
	"appointment-booking-api/internal/middleware"
	"appointment-booking-api/internal/store"
	"appointment-booking-api/internal/store/postgres"
	"appointment-booking-api/internal/store/sqlite"
	"appointment-booking-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// store
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// events
	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		pub = kp
		log.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("close event publisher", "error", err)
		}
	}()

	svc := booking.NewService(st, booking.Options{
		Publisher: pub,
		Metrics:   collector,
		Logger:    log,
		Location:  cfg.Location,
	})
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	h := handler.New(st, svc, issuer, cfg.RefreshTokenTTL, log)

	// health
	monitor := health.NewMonitor(st, log, cfg.HealthInterval)
	go monitor.Run(ctx)

	// sweeper
	sweeper := worker.NewSlotSweeper(st, log, collector, cfg.Location)
	sweeper.RetentionDays = cfg.SlotRetentionDays
	sched, err := sweeper.Schedule(cfg.SweepSchedule)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	rl := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer rl.Stop()

	// grpc health on its own port
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, monitor.Server())
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}
	go func() {
		log.Info("grpc health listening", "port", cfg.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr: ":" + cfg.WebPort,
		Handler: h.Routes(handler.RouterConfig{
			Logger:         log,
			Metrics:        collector,
			MetricsHandler: metrics.Handler(reg),
			HealthHandler:  monitor.HTTPHandler(),
			RateLimiter:    rl,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			TrustedProxies: cfg.TrustedProxies,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "port", cfg.WebPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("using sqlite", "path", cfg.SQLitePath)
		return st, nil
	default:
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("migrations applied")
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("connected to postgres")
		return st, nil
	}
}
