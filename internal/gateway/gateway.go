// Package gateway is the facade composing validation, dispatch, queueing,
// delivery reports, and analytics behind one API. Cross-cutting concerns
// run as an explicit middleware chain around every send path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/analytics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/dispatch"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/metrics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/queue"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/validation"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

// ResultSink receives every terminal dispatch result. Publishing is
// best-effort; the gateway functions without a sink and tolerates sink
// failures.
type ResultSink interface {
	Publish(ctx context.Context, result *models.DispatchResult) error
}

// Option customises the gateway.
type Option func(*Gateway)

// WithMiddleware replaces the default chain. Middlewares wrap every send
// path in the given order, outermost first.
func WithMiddleware(chain ...Middleware) Option {
	return func(g *Gateway) {
		g.chain = chain
		g.chainSet = true
	}
}

// WithResultSink forwards terminal results to the sink.
func WithResultSink(sink ResultSink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// WithMetrics records send, retry, and queue-depth metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// Gateway composes the notification pipeline. Construct with New; the zero
// value is not usable.
type Gateway struct {
	logger    zerolog.Logger
	now       func() time.Time
	validator *validation.Validator
	manager   *dispatch.Manager
	queue     *queue.Service
	webhooks  *webhook.Service
	analytics *analytics.Service
	metrics   *metrics.Metrics
	sink      ResultSink
	chain     []Middleware
	chainSet  bool
}

// New wires the facade. All five collaborators are required; metrics and
// the result sink are optional.
func New(
	logger zerolog.Logger,
	validator *validation.Validator,
	manager *dispatch.Manager,
	queueSvc *queue.Service,
	webhooks *webhook.Service,
	analyticsSvc *analytics.Service,
	opts ...Option,
) (*Gateway, error) {
	if validator == nil {
		return nil, errors.New("gateway: validator is required")
	}
	if manager == nil {
		return nil, errors.New("gateway: dispatch manager is required")
	}
	if queueSvc == nil {
		return nil, errors.New("gateway: queue service is required")
	}
	if webhooks == nil {
		return nil, errors.New("gateway: webhook service is required")
	}
	if analyticsSvc == nil {
		return nil, errors.New("gateway: analytics service is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	g := &Gateway{
		logger:    logger.With().Str("component", "gateway").Logger(),
		now:       time.Now,
		validator: validator,
		manager:   manager,
		queue:     queueSvc,
		webhooks:  webhooks,
		analytics: analyticsSvc,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if !g.chainSet {
		g.chain = []Middleware{
			Logging(g.logger),
			Sanitize(validator),
			Validate(validator),
		}
		if g.metrics != nil {
			g.chain = append(g.chain, Observe(g.metrics))
		}
	}
	return g, nil
}

// Send dispatches one message through a named provider, running the full
// middleware chain. Terminal results are recorded before returning.
func (g *Gateway) Send(ctx context.Context, msg *models.Message, providerID string) (*models.DispatchResult, error) {
	result, err := g.run(ctx, msg, func(ctx context.Context, m *models.Message) (*models.DispatchResult, error) {
		return g.manager.Send(ctx, providerID, m)
	})
	g.record(ctx, result)
	return result, err
}

// SendWithFallback tries the given providers in order and returns the first
// success, or the last attempt's failure. An empty provider list consults
// the selection policy for a single best candidate.
func (g *Gateway) SendWithFallback(ctx context.Context, msg *models.Message, providerIDs ...string) (*models.DispatchResult, error) {
	result, err := g.run(ctx, msg, func(ctx context.Context, m *models.Message) (*models.DispatchResult, error) {
		ids := providerIDs
		if len(ids) == 0 {
			best, err := g.manager.BestProvider(m)
			if err != nil {
				return nil, err
			}
			ids = []string{best}
		}
		return g.manager.SendWithFallback(ctx, m, ids)
	})
	g.record(ctx, result)
	return result, err
}

// SendBatch dispatches every message through one provider, one result per
// input in input order. Each message is sanitized and validated up front;
// invalid entries fail permanently without blocking the rest, and the valid
// remainder goes through the provider as one batch. Custom middleware does
// not run on the batch path, but every outcome is still counted in metrics
// and recorded.
func (g *Gateway) SendBatch(ctx context.Context, msgs []*models.Message, providerID string, opts dispatch.BatchOptions) ([]*models.DispatchResult, error) {
	if len(msgs) == 0 {
		return nil, errors.New("gateway: batch is empty")
	}

	results := make([]*models.DispatchResult, len(msgs))
	var toSend []*models.Message
	var slots []int
	for i, msg := range msgs {
		clean := g.validator.Sanitize(msg)
		if report := g.validator.Validate(clean); !report.Valid {
			results[i] = &models.DispatchResult{
				Success:   false,
				Provider:  providerID,
				Timestamp: g.now(),
				Error:     fmt.Sprintf("message rejected: %v", report.Errors),
				ErrorType: models.ErrorTypePermanent,
			}
			continue
		}
		toSend = append(toSend, clean)
		slots = append(slots, i)
	}

	if len(toSend) > 0 {
		sent, err := g.manager.SendBatch(ctx, toSend, providerID, opts)
		if err != nil {
			return nil, err
		}
		for j, result := range sent {
			results[slots[j]] = result
		}
	}
	for _, result := range results {
		g.countResult(result)
		g.record(ctx, result)
	}
	return results, nil
}

// countResult feeds one terminal result into the send counters, used on
// paths that bypass the Observe middleware.
func (g *Gateway) countResult(result *models.DispatchResult) {
	if g.metrics == nil || result == nil {
		return
	}
	if result.Success {
		g.metrics.SendTotal.WithLabelValues(result.Provider, "sent").Inc()
		return
	}
	g.metrics.SendTotal.WithLabelValues(result.Provider, string(result.ErrorType)).Inc()
	if result.ErrorType == models.ErrorTypeRateLimit {
		g.metrics.RateLimited.WithLabelValues(result.Provider).Inc()
	}
}

// Schedule validates and enqueues a message for future delivery, returning
// the queue id. A zero `at` enqueues for immediate dispatch.
func (g *Gateway) Schedule(ctx context.Context, msg *models.Message, at time.Time, providerID string) (string, error) {
	if msg == nil {
		return "", errors.New("gateway: message is required")
	}
	clean := g.validator.Sanitize(msg)
	if !at.IsZero() {
		clean.ScheduledFor = &at
	}
	if report := g.validator.Validate(clean); !report.Valid {
		return "", fmt.Errorf("gateway: message rejected: %v", report.Errors)
	}
	var policy *models.RetryPolicy
	if providerID != "" {
		if cfg, ok := g.manager.Config(providerID); ok {
			policy = cfg.RetryPolicy
		}
	}
	id, err := g.queue.Enqueue(clean, clean.EffectivePriority(), providerID, policy)
	if err != nil {
		return "", err
	}
	g.observeQueueDepth()
	return id, nil
}

// CancelScheduled removes a queued message by id.
func (g *Gateway) CancelScheduled(id string) bool {
	ok := g.queue.CancelScheduled(id)
	g.observeQueueDepth()
	return ok
}

// ScheduledMessages lists queued messages not yet eligible for dispatch.
func (g *Gateway) ScheduledMessages() []*models.QueuedMessage {
	return g.queue.ScheduledMessages()
}

// Status resolves the delivery state of a provider message id: a stored
// webhook report wins, otherwise the adapter is queried directly.
func (g *Gateway) Status(ctx context.Context, providerID, messageID string) (models.DeliveryStatus, error) {
	if report, ok := g.webhooks.Report(providerID, messageID); ok {
		return report.Status, nil
	}
	adapter, ok := g.manager.Get(providerID)
	if !ok {
		return models.DeliveryStatusUnknown, fmt.Errorf("gateway: unknown provider %s", providerID)
	}
	return adapter.Status(ctx, messageID)
}

// ProcessQueue drains eligible messages for one provider through the full
// send pipeline. Messages without a provider pin are routed by the
// selection policy per attempt.
func (g *Gateway) ProcessQueue(ctx context.Context, providerID string, opts queue.ProcessOptions) (*queue.ProcessReport, error) {
	report, err := g.queue.ProcessQueue(ctx, providerID, func(ctx context.Context, qm *models.QueuedMessage) (*models.DispatchResult, error) {
		target := qm.ProviderID
		if target == "" {
			best, berr := g.manager.BestProvider(qm.Message)
			if berr != nil {
				return nil, berr
			}
			target = best
		}
		msg := qm.Message
		if msg.ScheduledFor != nil {
			// The queue already held the message until its due time.
			msg = msg.Clone()
			msg.ScheduledFor = nil
		}
		return g.run(ctx, msg, func(ctx context.Context, m *models.Message) (*models.DispatchResult, error) {
			return g.manager.Send(ctx, target, m)
		})
	}, opts)
	if report != nil {
		for _, result := range report.Results {
			g.record(ctx, result)
		}
		if g.metrics != nil {
			g.metrics.RetryTotal.Add(float64(report.Requeued))
			g.metrics.DroppedTotal.Add(float64(report.Dropped))
		}
		g.observeQueueDepth()
	}
	return report, err
}

// CheckHealth probes every registered provider.
func (g *Gateway) CheckHealth(ctx context.Context) map[string]models.HealthStatus {
	return g.manager.CheckHealth(ctx)
}

// Analytics exposes the read-side aggregations.
func (g *Gateway) Analytics() *analytics.Service { return g.analytics }

// Webhooks exposes the delivery-report service for callback ingestion.
func (g *Gateway) Webhooks() *webhook.Service { return g.webhooks }

// Providers exposes the dispatch registry.
func (g *Gateway) Providers() *dispatch.Manager { return g.manager }

// QueueDepth reports how many messages are currently queued.
func (g *Gateway) QueueDepth() int { return g.queue.Size() }

// run executes the middleware chain around the core send.
func (g *Gateway) run(ctx context.Context, msg *models.Message, core Next) (*models.DispatchResult, error) {
	next := core
	for i := len(g.chain) - 1; i >= 0; i-- {
		mw := g.chain[i]
		inner := next
		next = func(ctx context.Context, m *models.Message) (*models.DispatchResult, error) {
			return mw(ctx, m, inner)
		}
	}
	return next(ctx, msg)
}

// record retains a terminal result in analytics and forwards it to the
// sink. Sink failures are logged, never propagated.
func (g *Gateway) record(ctx context.Context, result *models.DispatchResult) {
	if result == nil {
		return
	}
	g.analytics.RecordMessage(result)
	if g.sink != nil {
		if err := g.sink.Publish(ctx, result); err != nil {
			g.logger.Warn().Err(err).Str("provider", result.Provider).Msg("result sink publish failed")
		}
	}
}

func (g *Gateway) observeQueueDepth() {
	if g.metrics != nil {
		g.metrics.QueueDepth.Set(float64(g.queue.Size()))
	}
}
