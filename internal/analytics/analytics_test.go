package analytics

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func success(provider string, at time.Time, cost float64, segments int) *models.DispatchResult {
	return &models.DispatchResult{
		Success:   true,
		Provider:  provider,
		Timestamp: at,
		Cost:      cost,
		Segments:  segments,
	}
}

func failure(provider string, at time.Time, errType models.ErrorType) *models.DispatchResult {
	return &models.DispatchResult{
		Success:   false,
		Provider:  provider,
		Timestamp: at,
		Error:     "send failed",
		ErrorType: errType,
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestMessageStats(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.0079, 1))
	svc.RecordMessage(success("twilio", base.Add(time.Minute), 0.0158, 2))
	svc.RecordMessage(failure("vonage", base.Add(2*time.Minute), models.ErrorTypeTemporary))
	svc.RecordMessage(nil)

	stats := svc.MessageStats(base, base.Add(time.Hour))
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if !approx(stats.SuccessRate, 2.0/3.0) {
		t.Fatalf("success rate: %v", stats.SuccessRate)
	}
	if !approx(stats.TotalCost, 0.0237) || stats.TotalSegments != 3 {
		t.Fatalf("cost/segments: %+v", stats)
	}
}

func TestWindowBoundsAreHalfOpen(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))
	svc.RecordMessage(success("twilio", base.Add(time.Hour), 0.01, 1))

	stats := svc.MessageStats(base, base.Add(time.Hour))
	if stats.Total != 1 {
		t.Fatalf("end bound must be exclusive, got total %d", stats.Total)
	}
	stats = svc.MessageStats(base.Add(time.Hour), base.Add(2*time.Hour))
	if stats.Total != 1 {
		t.Fatalf("start bound must be inclusive, got total %d", stats.Total)
	}
}

func TestEmptyWindowYieldsZeroes(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))

	stats := svc.MessageStats(base.Add(-2*time.Hour), base.Add(-time.Hour))
	if stats.Total != 0 || stats.SuccessRate != 0 || stats.TotalCost != 0 {
		t.Fatalf("empty window stats: %+v", stats)
	}
	if rates := svc.DeliveryRates(base.Add(-2*time.Hour), base.Add(-time.Hour)); len(rates) != 0 {
		t.Fatalf("empty window rates: %v", rates)
	}
}

func TestRingBufferEvictsOldest(t *testing.T) {
	svc := NewService(zerolog.Nop(), 3)
	for i := 0; i < 5; i++ {
		svc.RecordMessage(success(fmt.Sprintf("p-%d", i), base.Add(time.Duration(i)*time.Minute), 0.01, 1))
	}

	if got := svc.Len(); got != 3 {
		t.Fatalf("retained: got %d, want 3", got)
	}
	costs := svc.CostByProvider(base, base.Add(time.Hour))
	for _, evicted := range []string{"p-0", "p-1"} {
		if _, ok := costs[evicted]; ok {
			t.Fatalf("evicted result %s still visible: %v", evicted, costs)
		}
	}
	for _, kept := range []string{"p-2", "p-3", "p-4"} {
		if _, ok := costs[kept]; !ok {
			t.Fatalf("recent result %s missing: %v", kept, costs)
		}
	}
}

func TestCostByProviderSkipsFailures(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))
	svc.RecordMessage(failure("twilio", base.Add(time.Minute), models.ErrorTypePermanent))
	svc.RecordMessage(success("vonage", base.Add(2*time.Minute), 0.02, 1))

	costs := svc.CostByProvider(base, base.Add(time.Hour))
	if !approx(costs["twilio"], 0.01) || !approx(costs["vonage"], 0.02) {
		t.Fatalf("costs: %v", costs)
	}
}

func TestDeliveryRates(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))
	svc.RecordMessage(success("twilio", base.Add(time.Minute), 0.01, 1))
	svc.RecordMessage(failure("twilio", base.Add(2*time.Minute), models.ErrorTypeTemporary))
	svc.RecordMessage(failure("vonage", base.Add(3*time.Minute), models.ErrorTypeRateLimit))

	rates := svc.DeliveryRates(base, base.Add(time.Hour))
	if rate := rates["twilio"]; rate.Total != 3 || rate.Succeeded != 2 || !approx(rate.Rate, 2.0/3.0) {
		t.Fatalf("twilio rate: %+v", rate)
	}
	if rate := rates["vonage"]; rate.Total != 1 || rate.Succeeded != 0 || rate.Rate != 0 {
		t.Fatalf("vonage rate: %+v", rate)
	}
}

func TestFailureAnalysis(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))
	svc.RecordMessage(failure("twilio", base.Add(time.Minute), models.ErrorTypeTemporary))
	svc.RecordMessage(failure("twilio", base.Add(2*time.Minute), models.ErrorTypeTemporary))
	svc.RecordMessage(failure("vonage", base.Add(3*time.Minute), models.ErrorTypeInvalidNumber))

	breakdown := svc.FailureAnalysis(base, base.Add(time.Hour))
	if breakdown.Total != 3 {
		t.Fatalf("total failures: %d", breakdown.Total)
	}
	if breakdown.ByType[models.ErrorTypeTemporary] != 2 || breakdown.ByType[models.ErrorTypeInvalidNumber] != 1 {
		t.Fatalf("by type: %v", breakdown.ByType)
	}
	if breakdown.ByProvider["twilio"] != 2 || breakdown.ByProvider["vonage"] != 1 {
		t.Fatalf("by provider: %v", breakdown.ByProvider)
	}
}

func TestProviderPerformance(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	svc.RecordMessage(success("twilio", base, 0.01, 1))
	svc.RecordMessage(success("twilio", base.Add(time.Minute), 0.03, 1))
	svc.RecordMessage(failure("twilio", base.Add(2*time.Minute), models.ErrorTypeTemporary))

	perf := svc.ProviderPerformance(base, base.Add(time.Hour))["twilio"]
	if perf.Total != 3 || perf.Succeeded != 2 {
		t.Fatalf("performance: %+v", perf)
	}
	if !approx(perf.FailureRate, 1.0/3.0) || !approx(perf.AvgCost, 0.02) {
		t.Fatalf("rates: %+v", perf)
	}
}

func TestPeakUsage(t *testing.T) {
	svc := NewService(zerolog.Nop(), 0)
	// Two results in the noon hour, one at 13:00.
	svc.RecordMessage(success("twilio", base.Add(5*time.Minute), 0.01, 1))
	svc.RecordMessage(success("twilio", base.Add(10*time.Minute), 0.01, 1))
	svc.RecordMessage(success("twilio", base.Add(65*time.Minute), 0.01, 1))

	buckets := svc.PeakUsage(base, base.Add(2*time.Hour))
	if len(buckets) != 2 {
		t.Fatalf("buckets: %v", buckets)
	}
	if buckets[0].Count != 2 || !buckets[0].Hour.Equal(base.Truncate(time.Hour)) {
		t.Fatalf("peak bucket: %+v", buckets[0])
	}
}
