// Package publisher forwards terminal dispatch results to a Kafka topic.
// The topic is the gateway's persistence boundary: downstream consumers own
// durable storage, the gateway only guarantees a best-effort feed.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour the publisher needs.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// ResultPublisher emits terminal dispatch results to a Kafka topic, keyed
// by provider message id so one message's outcomes land in one partition.
type ResultPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewResultPublisher constructs a ResultPublisher. A nil producer yields a
// nil publisher, which the gateway treats as "no sink".
func NewResultPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *ResultPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &ResultPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger.With().Str("component", "result-publisher").Logger(),
	}
}

// Publish writes the dispatch result to the results topic synchronously.
func (p *ResultPublisher) Publish(_ context.Context, result *models.DispatchResult) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}
	if result == nil {
		return errors.New("kafka publisher: result is required")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal result: %w", err)
	}

	key := result.MessageID
	if key == "" {
		key = result.Provider
	}
	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}

	if err := p.producer.PublishSync(p.topic, []byte(key), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish result: %w", err)
	}
	return nil
}
