// Package mock provides a deterministic in-memory adapter used in tests and
// local development.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/common"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// Scenario selects the behaviour of the mock adapter.
type Scenario string

const (
	ScenarioSuccess       Scenario = "success"
	ScenarioTemporary     Scenario = "temporary"
	ScenarioPermanent     Scenario = "permanent"
	ScenarioRateLimit     Scenario = "rate_limit"
	ScenarioInvalidNumber Scenario = "invalid_number"
)

// Option customises the mock adapter.
type Option func(*Adapter)

// WithScenario sets the default scenario. A message may override it with a
// "scenario" metadata key.
func WithScenario(s Scenario) Option {
	return func(a *Adapter) { a.defaultScenario = s }
}

// WithLatency injects artificial latency before each send.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.latency = d
		}
	}
}

// WithClock overrides the clock used to timestamp results.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithCostPerMessage sets the flat cost attached to successful sends.
func WithCostPerMessage(cost float64) Option {
	return func(a *Adapter) { a.cost = cost }
}

// WithHealthy fixes the health-check outcome.
func WithHealthy(healthy bool) Option {
	return func(a *Adapter) { a.healthy = healthy }
}

// Adapter is a scenario-driven fake provider. Safe for concurrent use.
type Adapter struct {
	id              string
	defaultScenario Scenario
	latency         time.Duration
	cost            float64
	healthy         bool
	now             func() time.Time

	seq uint64

	mu       sync.Mutex
	statuses map[string]models.DeliveryStatus
	sent     []string
}

// New constructs a mock adapter with the given provider id.
func New(id string, opts ...Option) *Adapter {
	if id == "" {
		id = "mock"
	}
	a := &Adapter{
		id:              id,
		defaultScenario: ScenarioSuccess,
		cost:            0.005,
		healthy:         true,
		now:             time.Now,
		statuses:        make(map[string]models.DeliveryStatus),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ID returns the registered provider id.
func (a *Adapter) ID() string { return a.id }

// Capabilities advertises full support so tests can exercise every path.
func (a *Adapter) Capabilities() models.Capabilities {
	return models.Capabilities{DeliveryReports: true, ScheduledMessages: true, MMS: true}
}

// Send simulates a dispatch according to the configured scenario.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (*models.DispatchResult, error) {
	if msg == nil {
		return nil, errors.New("mock adapter: message is required")
	}
	if a.latency > 0 {
		timer := time.NewTimer(a.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	scenario := a.defaultScenario
	if msg.Metadata != nil {
		if val, ok := msg.Metadata["scenario"].(string); ok && strings.TrimSpace(val) != "" {
			scenario = Scenario(strings.ToLower(strings.TrimSpace(val)))
		}
	}

	now := a.now()
	switch scenario {
	case ScenarioSuccess:
		id := fmt.Sprintf("%s-%d", a.id, atomic.AddUint64(&a.seq, 1))
		a.mu.Lock()
		a.statuses[id] = models.DeliveryStatusSent
		a.sent = append(a.sent, msg.To)
		a.mu.Unlock()
		result := common.Success(a.id, id, now)
		result.Cost = a.cost
		return result, nil
	case ScenarioTemporary:
		return common.Failure(a.id, now, models.ErrorTypeTemporary, "mock: provider unavailable"), nil
	case ScenarioPermanent:
		return common.Failure(a.id, now, models.ErrorTypePermanent, "mock: rejected by carrier"), nil
	case ScenarioRateLimit:
		result := common.Failure(a.id, now, models.ErrorTypeRateLimit, "mock: throttled")
		result.RetryAfter = time.Second
		return result, nil
	case ScenarioInvalidNumber:
		return common.Failure(a.id, now, models.ErrorTypeInvalidNumber, "mock: invalid recipient"), nil
	default:
		return nil, fmt.Errorf("mock adapter: unknown scenario %q", scenario)
	}
}

// Status reports the recorded state for a message id.
func (a *Adapter) Status(_ context.Context, messageID string) (models.DeliveryStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status, ok := a.statuses[messageID]; ok {
		return status, nil
	}
	return models.DeliveryStatusUnknown, nil
}

// SetStatus overrides the recorded state, letting tests simulate delivery
// progression.
func (a *Adapter) SetStatus(messageID string, status models.DeliveryStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[messageID] = status
}

// SentTo returns the recipients of every successful send, in order.
func (a *Adapter) SentTo() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

// HealthCheck reports the configured health.
func (a *Adapter) HealthCheck(_ context.Context) models.HealthStatus {
	status := models.HealthStatus{Healthy: a.healthy, CheckedAt: a.now()}
	if !a.healthy {
		status.Error = "mock: unhealthy by configuration"
	}
	return status
}

// ValidateConfig accepts everything; the mock needs no credentials.
func (a *Adapter) ValidateConfig(_ models.ProviderConfig) models.ConfigReport {
	return models.ConfigReport{Valid: true}
}
