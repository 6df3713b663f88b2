// Package queue holds messages awaiting dispatch in four priority levels
// with scheduled-delivery and retry re-enqueue semantics. This is the only
// place retry decisions are made; the dispatch manager and facade simply
// report what happened.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

const (
	// DefaultMaxAttempts bounds retries when the caller does not say.
	DefaultMaxAttempts = 3

	defaultBaseBackoff = 30 * time.Second
	defaultMaxBackoff  = 10 * time.Minute
)

// ErrProviderBusy is returned when ProcessQueue is already running for the
// provider. Callers must not block waiting; they fail fast and try later.
var ErrProviderBusy = errors.New("queue: processing already in progress for provider")

// SendFunc performs the actual dispatch of a dequeued message.
type SendFunc func(ctx context.Context, qm *models.QueuedMessage) (*models.DispatchResult, error)

// ProcessOptions tune a ProcessQueue invocation.
type ProcessOptions struct {
	// BatchSize caps how many messages one invocation will process.
	BatchSize int
	// Concurrency bounds simultaneous sendFn calls.
	Concurrency int
	// StopOnError stops draining after the first wave containing a failure.
	StopOnError bool
}

// ProcessReport summarises one ProcessQueue invocation. Results holds one
// entry per terminal outcome (successes and dropped failures); re-enqueued
// messages are counted but carry no terminal result yet.
type ProcessReport struct {
	Processed int
	Succeeded int
	Requeued  int
	Dropped   int
	Results   []*models.DispatchResult
}

// Option customises the service.
type Option func(*Service)

// WithClock overrides the clock used for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDFunc overrides queue-id generation (deterministic ids in tests).
func WithIDFunc(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithBackoff sets the retry backoff curve: base doubles per attempt with
// full jitter, capped at max.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Service) {
		if base > 0 {
			s.baseBackoff = base
		}
		if max > 0 {
			s.maxBackoff = max
		}
	}
}

// WithMaxAttempts replaces DefaultMaxAttempts for enqueues that do not name
// a cap themselves.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// Service is the in-memory priority queue. Safe for concurrent use; a
// single mutex guards the level lists, and a named lock per provider keeps
// concurrent ProcessQueue invocations from interleaving.
type Service struct {
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxAttempts int

	mu     sync.Mutex
	levels map[models.Priority][]*models.QueuedMessage

	procMu     sync.Mutex
	processing map[string]bool

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewService constructs an empty queue.
func NewService(logger zerolog.Logger, opts ...Option) *Service {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &Service{
		logger:      logger.With().Str("component", "queue").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		maxAttempts: DefaultMaxAttempts,
		levels:      make(map[models.Priority][]*models.QueuedMessage),
		processing:  make(map[string]bool),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enqueue adds a message at the given priority, optionally pinned to one
// provider, and returns the locally generated queue id. A non-nil policy
// overrides the service-wide attempt cap and backoff base for this message.
func (s *Service) Enqueue(msg *models.Message, priority models.Priority, providerID string, policy *models.RetryPolicy) (string, error) {
	if msg == nil {
		return "", errors.New("queue: message is required")
	}
	if !priority.Valid() {
		return "", fmt.Errorf("queue: invalid priority %d", int(priority))
	}
	maxAttempts := s.maxAttempts
	var retryBackoff time.Duration
	if policy != nil {
		if policy.MaxAttempts > 0 {
			maxAttempts = policy.MaxAttempts
		}
		if policy.Backoff > 0 {
			retryBackoff = policy.Backoff
		}
	}

	qm := &models.QueuedMessage{
		ID:           s.newID(),
		Message:      msg.Clone(),
		Priority:     priority,
		ProviderID:   providerID,
		EnqueuedAt:   s.now(),
		MaxAttempts:  maxAttempts,
		RetryBackoff: retryBackoff,
	}

	s.mu.Lock()
	s.levels[priority] = append(s.levels[priority], qm)
	s.mu.Unlock()

	s.logger.Debug().
		Str("queue_id", qm.ID).
		Str("priority", priority.String()).
		Str("provider", providerID).
		Msg("message enqueued")
	return qm.ID, nil
}

// Dequeue removes and returns the next eligible message for the provider:
// strict priority order urgent > high > normal > low, FIFO within a level.
// Messages scheduled for the future, waiting on a retry, or pinned to a
// different provider are skipped in place. A nil return means nothing is
// eligible right now — a normal outcome, not an error.
func (s *Service) Dequeue(providerID string) *models.QueuedMessage {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, priority := range models.Priorities {
		level := s.levels[priority]
		for i, qm := range level {
			if !qm.Eligible(now) {
				continue
			}
			if qm.ProviderID != "" && providerID != qm.ProviderID {
				continue
			}
			s.levels[priority] = append(level[:i:i], level[i+1:]...)
			return qm
		}
	}
	return nil
}

// Size reports the total number of queued messages across all levels.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, level := range s.levels {
		total += len(level)
	}
	return total
}

// Depth reports the number of queued messages at one priority level.
func (s *Service) Depth(priority models.Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.levels[priority])
}

// ScheduledMessages returns every message that is not yet eligible, across
// all levels, sorted by the time it becomes eligible.
func (s *Service) ScheduledMessages() []*models.QueuedMessage {
	now := s.now()
	s.mu.Lock()
	var out []*models.QueuedMessage
	for _, level := range s.levels {
		for _, qm := range level {
			if !qm.Eligible(now) {
				out = append(out, qm)
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EligibleAt().Before(out[j].EligibleAt())
	})
	return out
}

// CancelScheduled removes a queued message by id and reports whether
// anything was removed. Cancelling an id that was already dequeued (or
// never existed) is a no-op returning false.
func (s *Service) CancelScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for priority, level := range s.levels {
		for i, qm := range level {
			if qm.ID == id {
				s.levels[priority] = append(level[:i:i], level[i+1:]...)
				s.logger.Debug().Str("queue_id", id).Msg("scheduled message cancelled")
				return true
			}
		}
	}
	return false
}

// ProcessQueue drains eligible messages for one provider, invoking sendFn
// on up to Concurrency messages at a time. Retryable failures re-enqueue at
// a lowered priority with backoff until MaxAttempts is exhausted; permanent
// failures drop immediately. A second concurrent invocation for the same
// provider fails fast with ErrProviderBusy.
func (s *Service) ProcessQueue(ctx context.Context, providerID string, sendFn SendFunc, opts ProcessOptions) (*ProcessReport, error) {
	if sendFn == nil {
		return nil, errors.New("queue: send function is required")
	}
	if !s.tryLockProvider(providerID) {
		return nil, fmt.Errorf("%w: %s", ErrProviderBusy, providerID)
	}
	defer s.unlockProvider(providerID)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = math.MaxInt
	}

	report := &ProcessReport{}
	for report.Processed < batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		wave := make([]*models.QueuedMessage, 0, concurrency)
		for len(wave) < concurrency && report.Processed+len(wave) < batchSize {
			qm := s.Dequeue(providerID)
			if qm == nil {
				break
			}
			wave = append(wave, qm)
		}
		if len(wave) == 0 {
			break
		}

		waveFailed := s.processWave(ctx, wave, sendFn, report)
		if opts.StopOnError && waveFailed {
			break
		}
	}
	return report, nil
}

// processWave sends one wave concurrently and applies retry policy to each
// outcome. Reports whether any message in the wave failed.
func (s *Service) processWave(ctx context.Context, wave []*models.QueuedMessage, sendFn SendFunc, report *ProcessReport) bool {
	results := make([]*models.DispatchResult, len(wave))
	var wg sync.WaitGroup
	for i, qm := range wave {
		wg.Add(1)
		go func(i int, qm *models.QueuedMessage) {
			defer wg.Done()
			result, err := sendFn(ctx, qm)
			if err != nil {
				result = &models.DispatchResult{
					Success:   false,
					Provider:  qm.ProviderID,
					Timestamp: s.now(),
					Error:     err.Error(),
					ErrorType: models.ErrorTypeTemporary,
				}
			}
			results[i] = result
		}(i, qm)
	}
	wg.Wait()

	anyFailed := false
	for i, qm := range wave {
		result := results[i]
		report.Processed++
		if result != nil && result.Success {
			report.Succeeded++
			report.Results = append(report.Results, result)
			continue
		}
		anyFailed = true
		s.handleFailure(qm, result, report)
	}
	return anyFailed
}

func (s *Service) handleFailure(qm *models.QueuedMessage, result *models.DispatchResult, report *ProcessReport) {
	qm.Attempts++

	retryable := result == nil || result.ErrorType.Retryable()
	if retryable && qm.Attempts < qm.MaxAttempts {
		backoff := s.computeBackoff(qm, result)
		retryAt := s.now().Add(backoff)
		qm.NextRetryAt = &retryAt
		qm.Priority = lowerPriority(qm.Priority)

		s.mu.Lock()
		s.levels[qm.Priority] = append(s.levels[qm.Priority], qm)
		s.mu.Unlock()

		report.Requeued++
		s.logger.Info().
			Str("queue_id", qm.ID).
			Int("attempt", qm.Attempts).
			Dur("backoff", backoff).
			Str("priority", qm.Priority.String()).
			Msg("retryable failure re-enqueued")
		return
	}

	report.Dropped++
	if result == nil {
		result = &models.DispatchResult{
			Success:   false,
			Provider:  qm.ProviderID,
			Timestamp: s.now(),
			Error:     "dropped after exhausting attempts",
			ErrorType: models.ErrorTypeTemporary,
		}
	}
	report.Results = append(report.Results, result)
	s.logger.Warn().
		Str("queue_id", qm.ID).
		Int("attempts", qm.Attempts).
		Str("error_type", string(result.ErrorType)).
		Msg("message dropped as terminal failure")
}

// computeBackoff doubles the base per attempt with full jitter, capped at
// the configured maximum. A provider-suggested RetryAfter wins when longer.
func (s *Service) computeBackoff(qm *models.QueuedMessage, result *models.DispatchResult) time.Duration {
	base := s.baseBackoff
	if qm.RetryBackoff > 0 {
		base = qm.RetryBackoff
	}
	raw := time.Duration(float64(base) * math.Pow(2, float64(qm.Attempts-1)))
	if result != nil && result.ErrorType == models.ErrorTypeRateLimit {
		// Being throttled: back off at least one further doubling.
		raw *= 2
	}
	if raw > s.maxBackoff {
		raw = s.maxBackoff
	}
	jittered := s.fullJitter(raw)
	if result != nil && result.RetryAfter > jittered {
		return result.RetryAfter
	}
	return jittered
}

func (s *Service) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return time.Duration(s.rnd.Int63n(int64(max) + 1))
}

func (s *Service) tryLockProvider(providerID string) bool {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.processing[providerID] {
		return false
	}
	s.processing[providerID] = true
	return true
}

func (s *Service) unlockProvider(providerID string) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	delete(s.processing, providerID)
}

func lowerPriority(p models.Priority) models.Priority {
	if p <= models.PriorityLow {
		return models.PriorityLow
	}
	return p - 1
}
