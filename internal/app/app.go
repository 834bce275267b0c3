package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/petmarket/internal/health"
	"github.com/vladislavdragonenkov/petmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/petmarket/internal/metrics"
	"github.com/vladislavdragonenkov/petmarket/internal/service/httpapi"
	"github.com/vladislavdragonenkov/petmarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
	"github.com/vladislavdragonenkov/petmarket/internal/service/orders"
	"github.com/vladislavdragonenkov/petmarket/internal/service/outbox"
	"github.com/vladislavdragonenkov/petmarket/internal/version"
)

// application — собранный граф компонентов без сетевых слушателей.
type application struct {
	logger   *log.Entry
	deps     *runtimeDependencies
	producer *kafka.Producer

	manager       *orders.Manager
	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
	api           http.Handler
	health        *healthcheck.Handler

	stopWorkers func()
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Без Kafka сервис продолжает работу и отправляет письма сам.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	publisher, dlq := outboxPublishers(cfg, producer, logger)

	outboxMetrics := metrics.NewOutboxMetrics()

	notifier := notify.NewOutboxNotifier(deps.outboxRepo, logger.WithField("component", "notify"))
	manager := orders.NewManager(deps.products, deps.txm, deps.orders, notifier,
		orders.WithLogger(logger.WithField("component", "orders")),
		orders.WithMetrics(metrics.NewOrderMetrics()),
	)

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlq))
	}

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(outboxMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency"))
	api := httpapi.NewHandler(manager, deps.products,
		httpapi.WithLogger(logger.WithField("component", "http")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithIdempotency(guard),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	return &application{
		logger:        logger,
		deps:          deps,
		producer:      producer,
		manager:       manager,
		outboxWorker:  outbox.NewWorker(deps.outboxRepo, publisher, outboxOpts...),
		cleanupWorker: cleanupWorker,
		api:           api.Routes(),
		health:        healthHandler,
	}, nil
}

// startWorkers запускает фоновые воркеры. Остановка происходит в close.
func (a *application) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	outboxDone := make(chan struct{})
	cleanupDone := make(chan struct{})

	go func() {
		defer close(outboxDone)
		a.outboxWorker.Run(ctx)
	}()
	go func() {
		defer close(cleanupDone)
		a.cleanupWorker.Run(ctx)
	}()

	a.stopWorkers = func() {
		shutdownWorker("outbox worker", cancel, outboxDone, a.logger)
		shutdownWorker("idempotency cleanup", cancel, cleanupDone, a.logger)
	}
}

// close дожидается отложенных уведомлений, останавливает воркеры и освобождает подключения.
func (a *application) close(ctx context.Context) {
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("pending notifications were not enqueued before shutdown")
	}
	if a.stopWorkers != nil {
		a.stopWorkers()
	}
	closeKafkaProducer(a.producer, a.logger)
	if err := a.deps.close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
}

// Run собирает приложение и обслуживает HTTP API до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		a.close(context.Background())
		return err
	}

	var (
		grpcServer   *grpc.Server
		healthServer *health.Server
		grpcLis      net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			a.close(context.Background())
			return err
		}
		grpcServer, healthServer = newGRPCServer(logger)
	}

	a.startWorkers()
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, a.health)

	httpSrv := &http.Server{
		Handler:           a.api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if grpcServer != nil {
		go func() {
			logger.Infof("gRPC health слушает %s", grpcLis.Addr())
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed")
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if healthServer != nil {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
	stopGRPC(grpcServer, logger)

	a.close(shutdownCtx)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newGRPCServer поднимает служебный gRPC: health, reflection и метрики вызовов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	stoppedCh := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-проверки.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
