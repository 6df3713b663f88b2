// Package webhook ingests provider delivery-report callbacks, verifies
// their signatures, and fans the canonical reports out to subscribers.
package webhook

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

var (
	// ErrUnknownProvider is returned for callbacks naming an unregistered provider.
	ErrUnknownProvider = errors.New("webhook: no handler registered for provider")
	// ErrInvalidSignature is returned when verification fails. The callback
	// is rejected outright; nothing is parsed or stored.
	ErrInvalidSignature = errors.New("webhook: signature verification failed")
)

// Handler parses one provider's callback format. Each adapter package ships
// an implementation for its provider.
type Handler interface {
	ParseDeliveryReport(raw []byte) (string, *models.DeliveryReport, error)
	VerifySignature(signature string, raw []byte, secret string) bool
}

// Subscriber receives every accepted delivery report, synchronously, in
// registration order.
type Subscriber func(provider, messageID string, report *models.DeliveryReport)

type registration struct {
	handler Handler
	secret  string
}

// Service routes raw callbacks to the right provider handler and keeps the
// latest report per message. Safe for concurrent use.
type Service struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	handlers    map[string]registration
	reports     map[string]*models.DeliveryReport
	seenKeys    map[string]struct{}
	subscribers []Subscriber
}

// NewService constructs an empty webhook service.
func NewService(logger zerolog.Logger) *Service {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Service{
		logger:   logger.With().Str("component", "webhook").Logger(),
		handlers: make(map[string]registration),
		reports:  make(map[string]*models.DeliveryReport),
		seenKeys: make(map[string]struct{}),
	}
}

// RegisterHandler installs the callback handler for one provider. The
// secret is the provider's signing key; an empty secret disables
// verification for that provider.
func (s *Service) RegisterHandler(provider string, handler Handler, secret string) error {
	if provider == "" {
		return errors.New("webhook: provider id is required")
	}
	if handler == nil {
		return errors.New("webhook: handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[provider]; exists {
		return fmt.Errorf("webhook: handler for %s already registered", provider)
	}
	s.handlers[provider] = registration{handler: handler, secret: secret}
	return nil
}

// Subscribe adds a listener for accepted reports. Subscribers run
// synchronously in registration order; a panicking subscriber is isolated
// and does not stop the others.
func (s *Service) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// HandleDeliveryReport processes one raw callback. Verification happens
// before parsing: a bad signature rejects the callback without touching the
// store. Replays carrying an already-seen idempotency key return the stored
// report without overwriting or re-notifying. Otherwise the report is
// stored last-write-wins and fanned out.
func (s *Service) HandleDeliveryReport(provider string, raw []byte, signature, idempotencyKey string) (string, *models.DeliveryReport, error) {
	s.mu.RLock()
	reg, ok := s.handlers[provider]
	s.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	if reg.secret != "" && !reg.handler.VerifySignature(signature, raw, reg.secret) {
		s.logger.Warn().Str("provider", provider).Msg("rejected callback with bad signature")
		return "", nil, fmt.Errorf("%w: provider %s", ErrInvalidSignature, provider)
	}

	messageID, report, err := reg.handler.ParseDeliveryReport(raw)
	if err != nil {
		return "", nil, err
	}

	key := storeKey(provider, messageID)

	s.mu.Lock()
	if idempotencyKey != "" {
		dedupeKey := provider + "\x00" + idempotencyKey
		if _, seen := s.seenKeys[dedupeKey]; seen {
			stored := s.reports[key]
			s.mu.Unlock()
			s.logger.Debug().
				Str("provider", provider).
				Str("message_id", messageID).
				Msg("duplicate callback ignored")
			return messageID, stored, nil
		}
		s.seenKeys[dedupeKey] = struct{}{}
	}
	// Last write wins: the new report replaces any prior one verbatim.
	s.reports[key] = report
	subscribers := append([]Subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	s.logger.Info().
		Str("provider", provider).
		Str("message_id", messageID).
		Str("status", string(report.Status)).
		Msg("delivery report accepted")

	for _, fn := range subscribers {
		s.notify(fn, provider, messageID, report)
	}
	return messageID, report, nil
}

// Report returns the latest stored report for a provider message id.
func (s *Service) Report(provider, messageID string) (*models.DeliveryReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[storeKey(provider, messageID)]
	return report, ok
}

func (s *Service) notify(fn Subscriber, provider, messageID string, report *models.DeliveryReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("provider", provider).
				Str("message_id", messageID).
				Interface("panic", r).
				Msg("webhook subscriber panicked")
		}
	}()
	fn(provider, messageID, report)
}

func storeKey(provider, messageID string) string {
	return provider + "\x00" + messageID
}
