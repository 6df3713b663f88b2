package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/analytics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/config"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/dispatch"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/gateway"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/kafka/consumer"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/kafka/producer"
	kafkapublisher "github.com/SlySlayer32/dashboard-link-saas-sub001/internal/kafka/publisher"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/logger"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/providers/factory"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/queue"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/ratelimit"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/validation"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

// intent is the wire format consumed from the intent topic: a message plus
// an optional provider pin.
type intent struct {
	models.Message
	Provider string `json:"provider,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}
	if !cfg.Kafka.Enabled() {
		fail("config load", errors.New("KAFKA_BROKERS is required for the queue worker"))
	}

	baseLogger, err := logger.New("queue-worker", cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := *baseLogger

	kafkaLogger := log.With().Str("component", "kafka").Logger()
	prod, err := producer.New(cfg.Kafka.Brokers, kafkaLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log.With().Str("component", "consumer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	sink := kafkapublisher.NewResultPublisher(prod, cfg.Kafka.ResultsTopic, log.With().Str("component", "result-publisher").Logger())
	if sink == nil {
		log.Fatal().Msg("failed to create result publisher")
	}

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

	gw, err := gateway.New(log, validator, manager, queueSvc, webhooks, analyticsSvc, gateway.WithResultSink(sink))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise gateway")
	}

	go drainLoop(ctx, gw, cfg.Queue, log.With().Str("component", "drain").Logger())

	handler := intentHandler(gw, log.With().Str("component", "intent-handler").Logger())
	topics := []string{cfg.Kafka.IntentTopic}

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("intent_topic", cfg.Kafka.IntentTopic).Strs("providers", gw.Providers().All()).Msg("queue worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}
}

// intentHandler decodes intents and schedules them onto the in-process
// queue. Malformed or invalid intents are logged and committed: replaying
// them can never succeed.
func intentHandler(gw *gateway.Gateway, log zerolog.Logger) consumer.Handler {
	return func(ctx context.Context, record *consumer.Record) error {
		var in intent
		if err := json.Unmarshal(record.Value, &in); err != nil {
			log.Warn().Err(err).Int64("offset", record.Offset).Msg("dropping malformed intent")
			return nil
		}

		var at time.Time
		if in.ScheduledFor != nil {
			at = *in.ScheduledFor
		}
		id, err := gw.Schedule(ctx, &in.Message, at, in.Provider)
		if err != nil {
			log.Warn().Err(err).Int64("offset", record.Offset).Msg("dropping rejected intent")
			return nil
		}
		log.Debug().Str("queue_id", id).Str("provider", in.Provider).Msg("intent scheduled")
		return nil
	}
}

// drainLoop periodically processes due messages for every registered
// provider.
func drainLoop(ctx context.Context, gw *gateway.Gateway, cfg config.QueueConfig, log zerolog.Logger) {
	interval := cfg.ProcessInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	opts := queue.ProcessOptions{BatchSize: cfg.BatchSize, Concurrency: cfg.Concurrency}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, providerID := range gw.Providers().All() {
				report, err := gw.ProcessQueue(ctx, providerID, opts)
				if err != nil {
					if errors.Is(err, queue.ErrProviderBusy) || errors.Is(err, context.Canceled) {
						continue
					}
					log.Error().Err(err).Str("provider", providerID).Msg("queue processing failed")
					continue
				}
				if report.Processed > 0 {
					log.Info().
						Str("provider", providerID).
						Int("processed", report.Processed).
						Int("succeeded", report.Succeeded).
						Int("requeued", report.Requeued).
						Int("dropped", report.Dropped).
						Msg("queue drained")
				}
			}
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("queue worker init failed")
}
