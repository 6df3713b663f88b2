// Package analytics aggregates dispatch outcomes over a bounded in-memory
// window. Recording is O(1); queries scan the retained results and never
// block senders for long.
package analytics

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// DefaultCapacity bounds retained results when the caller does not choose.
const DefaultCapacity = 10000

// MessageStats summarises volume and spend over a window.
type MessageStats struct {
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	TotalCost     float64 `json:"total_cost"`
	TotalSegments int     `json:"total_segments"`
}

// DeliveryRate is one provider's success ratio over a window.
type DeliveryRate struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Rate      float64 `json:"rate"`
}

// FailureBreakdown splits failures by canonical error type and by provider.
type FailureBreakdown struct {
	Total      int                      `json:"total"`
	ByType     map[models.ErrorType]int `json:"by_type"`
	ByProvider map[string]int           `json:"by_provider"`
}

// ProviderPerformance compares providers on volume, reliability, and spend.
type ProviderPerformance struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	FailureRate float64 `json:"failure_rate"`
	AvgCost     float64 `json:"avg_cost"`
}

// UsageBucket is one hour of traffic.
type UsageBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// Service retains the most recent dispatch results in a fixed-size ring.
// Once the ring is full the oldest result is evicted per record. Safe for
// concurrent use.
type Service struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	ring []*models.DispatchResult
	next int
	full bool
}

// NewService constructs an analytics service retaining up to capacity
// results; capacity <= 0 selects DefaultCapacity.
func NewService(logger zerolog.Logger, capacity int) *Service {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Service{
		logger: logger.With().Str("component", "analytics").Logger(),
		ring:   make([]*models.DispatchResult, capacity),
	}
}

// RecordMessage retains one terminal dispatch outcome. Nil results are ignored.
func (s *Service) RecordMessage(result *models.DispatchResult) {
	if result == nil {
		return
	}
	s.mu.Lock()
	s.ring[s.next] = result
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	s.mu.Unlock()
}

// Len reports how many results are currently retained.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// window returns retained results with Timestamp in [start, end).
func (s *Service) window(start, end time.Time) []*models.DispatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = len(s.ring)
	}
	out := make([]*models.DispatchResult, 0, count)
	for i := 0; i < count; i++ {
		r := s.ring[i]
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// MessageStats aggregates volume, success rate, cost, and segments over
// [start, end). An empty window yields all-zero stats.
func (s *Service) MessageStats(start, end time.Time) MessageStats {
	stats := MessageStats{}
	for _, r := range s.window(start, end) {
		stats.Total++
		if r.Success {
			stats.Succeeded++
			stats.TotalCost += r.Cost
			stats.TotalSegments += r.Segments
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	return stats
}

// CostByProvider totals successful-send spend per provider over [start, end).
func (s *Service) CostByProvider(start, end time.Time) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range s.window(start, end) {
		if r.Success {
			out[r.Provider] += r.Cost
		}
	}
	return out
}

// DeliveryRates reports per-provider success ratios over [start, end).
func (s *Service) DeliveryRates(start, end time.Time) map[string]DeliveryRate {
	out := make(map[string]DeliveryRate)
	for _, r := range s.window(start, end) {
		rate := out[r.Provider]
		rate.Total++
		if r.Success {
			rate.Succeeded++
		}
		out[r.Provider] = rate
	}
	for provider, rate := range out {
		rate.Rate = float64(rate.Succeeded) / float64(rate.Total)
		out[provider] = rate
	}
	return out
}

// FailureAnalysis breaks failures down by error type and provider over
// [start, end).
func (s *Service) FailureAnalysis(start, end time.Time) FailureBreakdown {
	breakdown := FailureBreakdown{
		ByType:     make(map[models.ErrorType]int),
		ByProvider: make(map[string]int),
	}
	for _, r := range s.window(start, end) {
		if r.Success {
			continue
		}
		breakdown.Total++
		breakdown.ByType[r.ErrorType]++
		breakdown.ByProvider[r.Provider]++
	}
	return breakdown
}

// ProviderPerformance compares providers over [start, end). AvgCost covers
// successful sends only.
func (s *Service) ProviderPerformance(start, end time.Time) map[string]ProviderPerformance {
	out := make(map[string]ProviderPerformance)
	costs := make(map[string]float64)
	for _, r := range s.window(start, end) {
		perf := out[r.Provider]
		perf.Total++
		if r.Success {
			perf.Succeeded++
			costs[r.Provider] += r.Cost
		}
		out[r.Provider] = perf
	}
	for provider, perf := range out {
		perf.FailureRate = float64(perf.Total-perf.Succeeded) / float64(perf.Total)
		if perf.Succeeded > 0 {
			perf.AvgCost = costs[provider] / float64(perf.Succeeded)
		}
		out[provider] = perf
	}
	return out
}

// PeakUsage buckets traffic by hour over [start, end) and returns the
// buckets sorted busiest first, ties broken by earlier hour.
func (s *Service) PeakUsage(start, end time.Time) []UsageBucket {
	counts := make(map[time.Time]int)
	for _, r := range s.window(start, end) {
		counts[r.Timestamp.Truncate(time.Hour)]++
	}
	out := make([]UsageBucket, 0, len(counts))
	for hour, count := range counts {
		out = append(out, UsageBucket{Hour: hour, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour.Before(out[j].Hour)
	})
	return out
}
