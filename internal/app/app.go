package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	httpsvc "github.com/vladislavdragonenkov/orders/internal/service/http"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// Run поднимает REST API, сервер метрик и фоновые воркеры; блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn == nil {
			return
		}
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// Ошибка уже залогирована: сервис работает без публикации outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	orderMetrics := metrics.NewOrderMetrics()
	serviceOptions := []orders.Option{
		orders.WithTimeline(deps.timelineRepo),
		orders.WithMetrics(orderMetrics),
		orders.WithLogger(log.WithField("component", "orders")),
		orders.WithPageLimits(cfg.DefaultPageLimit, cfg.MaxPageLimit),
	}
	if cfg.EnforceStatusTransitions {
		serviceOptions = append(serviceOptions, orders.WithStatusTransitions(domain.MonotonicPolicy{}))
	}

	var (
		outboxCancel context.CancelFunc
		outboxDone   <-chan struct{}
	)
	if kafkaProducer != nil {
		serviceOptions = append(serviceOptions, orders.WithOutbox(deps.outboxRepo))
		outboxCancel, outboxDone = startOutboxWorker(ctx, cfg, deps.outboxRepo, kafkaProducer)
	}
	defer shutdownOutboxWorker(outboxCancel, outboxDone, logger)

	cleanupCancel, cleanupDone := startCleanupWorker(ctx, cfg, deps.idempotencyRepo)
	defer shutdownOutboxWorker(cleanupCancel, cleanupDone, logger)

	svc := orders.NewService(deps.repo, serviceOptions...)
	api := httpsvc.NewHandler(svc,
		httpsvc.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		httpsvc.WithMetrics(orderMetrics),
		httpsvc.WithLogger(log.WithField("component", "http")),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.idempotencyChecker != nil {
		healthHandler.RegisterChecker("idempotency", deps.idempotencyChecker)
	}
	logger.WithField("checks", healthHandler.Names()).Debug("health checks registered")
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("orders API listening")
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", addr).Info("metrics server listening on /metrics")
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
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
