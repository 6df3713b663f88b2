// Package dispatch owns the provider registry: registration, health
// tracking, rate-limit enforcement, fallback chains and batch dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/common"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/ratelimit"
)

const defaultMaxInFlight = 16

var (
	// ErrUnknownProvider is returned when an id has no registration.
	ErrUnknownProvider = errors.New("dispatch: unknown provider")
	// ErrNoProviders is returned when selection finds no usable provider.
	ErrNoProviders = errors.New("dispatch: no providers available")
	// ErrAlreadyRegistered is returned on duplicate registration.
	ErrAlreadyRegistered = errors.New("dispatch: provider already registered")
)

type registration struct {
	adapter  common.Adapter
	config   models.ProviderConfig
	inflight *semaphore.Weighted

	mu         sync.Mutex
	lastHealth *models.HealthStatus
	lastCost   float64
	costKnown  bool
}

func (r *registration) health() *models.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealth
}

func (r *registration) observe(result *models.DispatchResult) {
	if result == nil || !result.Success || result.Cost <= 0 {
		return
	}
	r.mu.Lock()
	r.lastCost = result.Cost
	r.costKnown = true
	r.mu.Unlock()
}

// Candidate is the view of a registered provider exposed to selectors.
type Candidate struct {
	ID           string
	Capabilities models.Capabilities
	Health       *models.HealthStatus
	LastCost     float64
	CostKnown    bool
}

// Selector picks a provider for a message. Implementations must be
// deterministic for identical inputs.
type Selector interface {
	Select(candidates []Candidate, msg *models.Message) (string, bool)
}

// BatchOptions tune SendBatch.
type BatchOptions struct {
	Parallel  bool
	BatchSize int
}

// Option customises the manager.
type Option func(*Manager)

// WithSelector replaces the default first-healthy selection policy.
func WithSelector(s Selector) Option {
	return func(m *Manager) {
		if s != nil {
			m.selector = s
		}
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the provider registry and dispatch coordinator. All methods
// are safe for concurrent use.
type Manager struct {
	logger   zerolog.Logger
	limiter  *ratelimit.Registry
	selector Selector
	now      func() time.Time

	mu        sync.RWMutex
	providers map[string]*registration
	order     []string
}

// NewManager constructs an empty registry. The rate-limit registry is
// required; every registered provider's limits are installed into it.
func NewManager(limiter *ratelimit.Registry, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if limiter == nil {
		return nil, errors.New("dispatch: rate limit registry is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	m := &Manager{
		logger:    logger.With().Str("component", "dispatch").Logger(),
		limiter:   limiter,
		selector:  FirstHealthy{},
		now:       time.Now,
		providers: make(map[string]*registration),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Register installs an adapter under its config. The config is validated by
// the adapter before being trusted and is owned by the manager afterwards;
// changing it requires Unregister + Register.
func (m *Manager) Register(adapter common.Adapter, cfg models.ProviderConfig) error {
	if adapter == nil {
		return errors.New("dispatch: adapter is required")
	}
	if cfg.ID == "" {
		cfg.ID = adapter.ID()
	}
	if cfg.ID == "" {
		return errors.New("dispatch: provider id is required")
	}

	if report := adapter.ValidateConfig(cfg); !report.Valid {
		return fmt.Errorf("dispatch: config for %q rejected: %v", cfg.ID, report.Errors)
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, cfg.ID)
	}
	m.providers[cfg.ID] = &registration{
		adapter:  adapter,
		config:   cfg,
		inflight: semaphore.NewWeighted(int64(maxInFlight)),
	}
	m.order = append(m.order, cfg.ID)
	if cfg.RateLimits != nil {
		m.limiter.Configure(cfg.ID, *cfg.RateLimits)
	}
	m.logger.Info().Str("provider", cfg.ID).Bool("enabled", cfg.Enabled).Msg("provider registered")
	return nil
}

// Unregister removes a provider and its rate limits.
func (m *Manager) Unregister(providerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[providerID]; !ok {
		return false
	}
	delete(m.providers, providerID)
	for i, id := range m.order {
		if id == providerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.limiter.Remove(providerID)
	return true
}

// Get returns the adapter registered under an id.
func (m *Manager) Get(providerID string) (common.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.providers[providerID]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// All lists registered provider ids in registration order.
func (m *Manager) All() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Config returns the registration-time config for a provider.
func (m *Manager) Config(providerID string) (models.ProviderConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.providers[providerID]
	if !ok {
		return models.ProviderConfig{}, false
	}
	return reg.config, true
}

func (m *Manager) get(providerID string) (*registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.providers[providerID]
	return reg, ok
}

// Send dispatches a message through one named provider, enforcing its rate
// limits and in-flight bound. Provider-side failures come back as results.
func (m *Manager) Send(ctx context.Context, providerID string, msg *models.Message) (*models.DispatchResult, error) {
	reg, ok := m.get(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if !reg.config.Enabled {
		return common.Failure(providerID, m.now(), models.ErrorTypePermanent, "provider %s is disabled", providerID), nil
	}

	if decision := m.limiter.TryConsume(providerID, 1); !decision.Allowed {
		result := common.Failure(providerID, m.now(), models.ErrorTypeRateLimit,
			"rate limit exceeded for %s window", decision.Window)
		result.RetryAfter = decision.RetryAfter
		return result, nil
	}

	// The in-flight bound keeps bursts from merely queueing behind the
	// limiter: once tokens are granted the call still may not exceed the
	// provider's concurrency budget.
	if err := reg.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer reg.inflight.Release(1)

	result, err := reg.adapter.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	reg.observe(result)
	return result, nil
}

// SendWithFallback tries each provider in order and returns the first
// success. If every candidate fails, the result of the last attempt is
// returned so callers can inspect the most recent concrete error.
func (m *Manager) SendWithFallback(ctx context.Context, msg *models.Message, providerIDs []string) (*models.DispatchResult, error) {
	if len(providerIDs) == 0 {
		return nil, ErrNoProviders
	}

	var last *models.DispatchResult
	for _, id := range providerIDs {
		result, err := m.Send(ctx, id, msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			last = common.Failure(id, m.now(), models.ErrorTypeTemporary, "%v", err)
			continue
		}
		if result.Success {
			return result, nil
		}
		m.logger.Debug().
			Str("provider", id).
			Str("error_type", string(result.ErrorType)).
			Msg("fallback candidate failed")
		last = result
	}
	return last, nil
}

// BestProvider applies the selection policy over the current registry. No
// provider is chosen that failed its most recent health check.
func (m *Manager) BestProvider(msg *models.Message) (string, error) {
	m.mu.RLock()
	candidates := make([]Candidate, 0, len(m.order))
	for _, id := range m.order {
		reg := m.providers[id]
		if !reg.config.Enabled {
			continue
		}
		reg.mu.Lock()
		cand := Candidate{
			ID:           id,
			Capabilities: reg.adapter.Capabilities(),
			Health:       reg.lastHealth,
			LastCost:     reg.lastCost,
			CostKnown:    reg.costKnown,
		}
		reg.mu.Unlock()
		candidates = append(candidates, cand)
	}
	selector := m.selector
	m.mu.RUnlock()

	id, ok := selector.Select(candidates, msg)
	if !ok {
		return "", ErrNoProviders
	}
	return id, nil
}

// SendBatch dispatches every message through one provider and returns one
// result per input, in input order. With Parallel set, up to BatchSize
// messages are in flight at once; the call still returns only after every
// message has a result.
func (m *Manager) SendBatch(ctx context.Context, msgs []*models.Message, providerID string, opts BatchOptions) ([]*models.DispatchResult, error) {
	if _, ok := m.get(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	results := make([]*models.DispatchResult, len(msgs))
	fill := func(i int) {
		result, err := m.Send(ctx, providerID, msgs[i])
		if err != nil {
			result = common.Failure(providerID, m.now(), models.ErrorTypeTemporary, "%v", err)
		}
		results[i] = result
	}

	if !opts.Parallel || len(msgs) < 2 {
		for i := range msgs {
			fill(i)
		}
		return results, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultMaxInFlight
	}
	sem := semaphore.NewWeighted(int64(batchSize))
	var wg sync.WaitGroup
	for i := range msgs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; fail the remaining slots rather than return a
			// partial batch.
			for j := i; j < len(msgs); j++ {
				results[j] = common.Failure(providerID, m.now(), models.ErrorTypeTemporary, "%v", err)
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			fill(i)
		}(i)
	}
	wg.Wait()
	return results, nil
}

// CheckHealth probes every registered provider and records the outcome for
// selection decisions. Returns the fresh statuses keyed by provider id.
func (m *Manager) CheckHealth(ctx context.Context) map[string]models.HealthStatus {
	out := make(map[string]models.HealthStatus)
	for _, id := range m.All() {
		reg, ok := m.get(id)
		if !ok {
			continue
		}
		status := reg.adapter.HealthCheck(ctx)
		reg.mu.Lock()
		reg.lastHealth = &status
		reg.mu.Unlock()
		out[id] = status
		if !status.Healthy {
			m.logger.Warn().Str("provider", id).Str("error", status.Error).Msg("provider unhealthy")
		}
	}
	return out
}

// Health returns the last recorded health status for a provider, if any.
func (m *Manager) Health(providerID string) *models.HealthStatus {
	reg, ok := m.get(providerID)
	if !ok {
		return nil
	}
	return reg.health()
}
