package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/analytics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/config"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/dispatch"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/gateway"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/httpapi"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/kafka/producer"
	kafkapublisher "github.com/SlySlayer32/dashboard-link-saas-sub001/internal/kafka/publisher"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/logger"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/metrics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/providers/factory"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/queue"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/ratelimit"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/validation"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New("gateway", cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := *baseLogger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gatewayMetrics := metrics.New(registry)

	limiter := ratelimit.NewRegistry()
	manager, err := dispatch.NewManager(limiter, log.With().Str("component", "dispatch").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dispatch manager")
	}
	if err := factory.Register(manager, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register providers")
	}

	webhooks := webhook.NewService(log.With().Str("component", "webhook").Logger())
	if err := factory.RegisterWebhooks(webhooks, cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to register webhook handlers")
	}

	validator := validation.New(log.With().Str("component", "validation").Logger())
	queueSvc := queue.NewService(
		log.With().Str("component", "queue").Logger(),
		queue.WithBackoff(cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff),
		queue.WithMaxAttempts(cfg.Retry.MaxAttempts),
	)
	analyticsSvc := analytics.NewService(log.With().Str("component", "analytics").Logger(), cfg.Analytics.Capacity)

	gatewayOpts := []gateway.Option{gateway.WithMetrics(gatewayMetrics)}

	var resultProducer *producer.Producer
	if cfg.Kafka.Enabled() {
		kafkaLogger := log.With().Str("component", "kafka").Logger()
		resultProducer, err = producer.New(cfg.Kafka.Brokers, kafkaLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := resultProducer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()

		sink := kafkapublisher.NewResultPublisher(resultProducer, cfg.Kafka.ResultsTopic, log.With().Str("component", "result-publisher").Logger())
		if sink == nil {
			log.Fatal().Msg("failed to create result publisher")
		}
		gatewayOpts = append(gatewayOpts, gateway.WithResultSink(sink))
	}

	gw, err := gateway.New(log, validator, manager, queueSvc, webhooks, analyticsSvc, gatewayOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise gateway")
	}

	go pollHealth(ctx, gw, cfg.Health, log.With().Str("component", "health").Logger())

	apiOpts := []httpapi.Option{
		httpapi.WithMetrics(gatewayMetrics, registry),
		httpapi.WithReadiness(func() bool {
			if resultProducer != nil {
				return resultProducer.IsReady()
			}
			return true
		}),
	}
	srv, err := httpapi.NewServer(webhooks, log.With().Str("component", "http").Logger(), apiOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Strs("providers", manager.All()).Msg("gateway started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

func pollHealth(ctx context.Context, gw *gateway.Gateway, cfg config.HealthConfig, log zerolog.Logger) {
	if cfg.PollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, cfg.CheckTimeout)
			statuses := gw.CheckHealth(checkCtx)
			cancel()
			for provider, status := range statuses {
				if !status.Healthy {
					log.Warn().Str("provider", provider).Str("error", status.Error).Msg("provider unhealthy")
				}
			}
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("gateway init failed")
}
