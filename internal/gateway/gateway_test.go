package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/adapters/mock"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/analytics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/dispatch"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/metrics"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/queue"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/ratelimit"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/validation"
	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/webhook"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

type capturingSink struct {
	mu      sync.Mutex
	results []*models.DispatchResult
	err     error
}

func (s *capturingSink) Publish(_ context.Context, result *models.DispatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type fixture struct {
	gateway *Gateway
	adapter *mock.Adapter
	sink    *capturingSink
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	manager, err := dispatch.NewManager(ratelimit.NewRegistry(), zerolog.Nop(), dispatch.WithClock(fixedNow))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	adapter := mock.New("primary", mock.WithClock(fixedNow), mock.WithCostPerMessage(0.01))
	if err := manager.Register(adapter, models.ProviderConfig{ID: "primary", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	sink := &capturingSink{}
	opts = append([]Option{WithClock(fixedNow), WithResultSink(sink)}, opts...)

	gw, err := New(
		zerolog.Nop(),
		validation.New(zerolog.Nop(), validation.WithClock(fixedNow)),
		manager,
		queue.NewService(zerolog.Nop(), queue.WithClock(fixedNow)),
		webhook.NewService(zerolog.Nop()),
		analytics.NewService(zerolog.Nop(), 0),
		opts...,
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return &fixture{gateway: gw, adapter: adapter, sink: sink}
}

func TestSendRunsPipelineAndRecords(t *testing.T) {
	f := newFixture(t)

	// Messy recipient exercises the sanitize stage.
	result, err := f.gateway.Send(context.Background(), &models.Message{To: " +1 (415) 555-1234 ", Body: "hello"}, "primary")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Success {
		t.Fatalf("result: %+v", result)
	}
	if sent := f.adapter.SentTo(); len(sent) != 1 || sent[0] != "+14155551234" {
		t.Fatalf("adapter saw %v, want the normalized recipient", sent)
	}

	stats := f.gateway.Analytics().MessageStats(fixedNow().Add(-time.Minute), fixedNow().Add(time.Minute))
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Fatalf("analytics: %+v", stats)
	}
	if f.sink.count() != 1 {
		t.Fatalf("sink publishes: %d, want 1", f.sink.count())
	}
}

func TestSendRejectsInvalidMessageBeforeProvider(t *testing.T) {
	f := newFixture(t)

	result, err := f.gateway.Send(context.Background(), &models.Message{To: "not-a-number", Body: "hello"}, "primary")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Success || result.ErrorType != models.ErrorTypeInvalidNumber {
		t.Fatalf("rejection result: %+v", result)
	}
	if sent := f.adapter.SentTo(); len(sent) != 0 {
		t.Fatalf("provider reached for invalid message: %v", sent)
	}
}

func TestSendWithFallbackSelectsWhenUnpinned(t *testing.T) {
	f := newFixture(t)

	result, err := f.gateway.SendWithFallback(context.Background(), &models.Message{To: "+14155551234", Body: "hi"})
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if !result.Success || result.Provider != "primary" {
		t.Fatalf("result: %+v", result)
	}
}

func TestSendBatchMixedValidity(t *testing.T) {
	f := newFixture(t)

	msgs := []*models.Message{
		{To: "+14155550001", Body: "one"},
		{To: "bogus", Body: "two"},
		{To: "+14155550003", Body: "three"},
	}
	results, err := f.gateway.SendBatch(context.Background(), msgs, "primary", dispatch.BatchOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("outcomes: %+v", results)
	}
	if results[1].ErrorType != models.ErrorTypePermanent {
		t.Fatalf("invalid slot error type: %s", results[1].ErrorType)
	}
	if f.sink.count() != 3 {
		t.Fatalf("sink publishes: %d, want one per input", f.sink.count())
	}
}

func TestScheduleAndProcessQueue(t *testing.T) {
	f := newFixture(t)

	at := fixedNow().Add(time.Hour)
	id, err := f.gateway.Schedule(context.Background(), &models.Message{To: "+14155551234", Body: "later"}, at, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if id == "" {
		t.Fatal("empty queue id")
	}

	scheduled := f.gateway.ScheduledMessages()
	if len(scheduled) != 1 || scheduled[0].ID != id {
		t.Fatalf("scheduled list: %+v", scheduled)
	}

	// Not yet due: nothing drains.
	report, err := f.gateway.ProcessQueue(context.Background(), "", queue.ProcessOptions{})
	if err != nil {
		t.Fatalf("early process: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("early drain processed %d", report.Processed)
	}
	if sent := f.adapter.SentTo(); len(sent) != 0 {
		t.Fatalf("scheduled message sent early: %v", sent)
	}
}

func TestScheduleUsesPinnedProviderRetryPolicy(t *testing.T) {
	f := newFixture(t)

	tuned := mock.New("tuned", mock.WithClock(fixedNow))
	cfg := models.ProviderConfig{
		ID:          "tuned",
		Enabled:     true,
		RetryPolicy: &models.RetryPolicy{MaxAttempts: 5, Backoff: 90 * time.Second},
	}
	if err := f.gateway.Providers().Register(tuned, cfg); err != nil {
		t.Fatalf("register: %v", err)
	}

	at := fixedNow().Add(time.Hour)
	pinned, err := f.gateway.Schedule(context.Background(), &models.Message{To: "+14155551234", Body: "tuned retries"}, at, "tuned")
	if err != nil {
		t.Fatalf("schedule pinned: %v", err)
	}
	free, err := f.gateway.Schedule(context.Background(), &models.Message{To: "+14155551234", Body: "default retries"}, at, "")
	if err != nil {
		t.Fatalf("schedule unpinned: %v", err)
	}

	byID := map[string]*models.QueuedMessage{}
	for _, qm := range f.gateway.ScheduledMessages() {
		byID[qm.ID] = qm
	}
	if qm := byID[pinned]; qm == nil || qm.MaxAttempts != 5 || qm.RetryBackoff != 90*time.Second {
		t.Fatalf("pinned message ignores provider retry policy: %+v", qm)
	}
	if qm := byID[free]; qm == nil || qm.MaxAttempts != queue.DefaultMaxAttempts || qm.RetryBackoff != 0 {
		t.Fatalf("unpinned message should use queue defaults: %+v", qm)
	}
}

func TestProcessQueueRoutesUnpinnedMessages(t *testing.T) {
	f := newFixture(t)

	if _, err := f.gateway.Schedule(context.Background(), &models.Message{To: "+14155551234", Body: "now"}, time.Time{}, ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	report, err := f.gateway.ProcessQueue(context.Background(), "", queue.ProcessOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("report: %+v", report)
	}
	if sent := f.adapter.SentTo(); len(sent) != 1 {
		t.Fatalf("adapter sends: %v", sent)
	}

	stats := f.gateway.Analytics().MessageStats(fixedNow().Add(-time.Minute), fixedNow().Add(time.Minute))
	if stats.Total != 1 {
		t.Fatalf("drained result not recorded: %+v", stats)
	}
}

func TestCancelScheduled(t *testing.T) {
	f := newFixture(t)

	id, err := f.gateway.Schedule(context.Background(), &models.Message{To: "+14155551234", Body: "later"}, fixedNow().Add(time.Hour), "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !f.gateway.CancelScheduled(id) {
		t.Fatal("cancel reported not found")
	}
	if depth := f.gateway.QueueDepth(); depth != 0 {
		t.Fatalf("queue depth after cancel: %d", depth)
	}
}

func TestStatusPrefersWebhookReport(t *testing.T) {
	f := newFixture(t)

	result, err := f.gateway.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hi"}, "primary")
	if err != nil || !result.Success {
		t.Fatalf("send: result=%+v err=%v", result, err)
	}

	// Without a webhook report the adapter's recorded state answers.
	status, err := f.gateway.Status(context.Background(), "primary", result.MessageID)
	if err != nil || status != models.DeliveryStatusSent {
		t.Fatalf("adapter status: %v err=%v", status, err)
	}

	// A stored delivery report wins over the adapter query.
	if err := f.gateway.Webhooks().RegisterHandler("primary", &reportStub{id: result.MessageID}, ""); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if _, _, err := f.gateway.Webhooks().HandleDeliveryReport("primary", []byte("delivered"), "", ""); err != nil {
		t.Fatalf("handle report: %v", err)
	}
	status, err = f.gateway.Status(context.Background(), "primary", result.MessageID)
	if err != nil || status != models.DeliveryStatusDelivered {
		t.Fatalf("webhook status: %v err=%v", status, err)
	}
}

type reportStub struct{ id string }

func (h *reportStub) ParseDeliveryReport(raw []byte) (string, *models.DeliveryReport, error) {
	return h.id, &models.DeliveryReport{Status: models.DeliveryStatus(string(raw)), Attempts: 1}, nil
}

func (h *reportStub) VerifySignature(string, []byte, string) bool { return true }

func TestSinkFailureDoesNotBreakSend(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker unavailable")

	result, err := f.gateway.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hi"}, "primary")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Success {
		t.Fatalf("result: %+v", result)
	}
}

func TestMetricsObserveOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithMetrics(m))

	if _, err := f.gateway.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hi"}, "primary"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := testutil.ToFloat64(m.SendTotal.WithLabelValues("primary", "sent"))
	if got != 1 {
		t.Fatalf("send counter: got %v, want 1", got)
	}
}

func TestSendBatchCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithMetrics(m))

	msgs := []*models.Message{
		{To: "+14155551234", Body: "one"},
		{To: "not-a-number", Body: "two"},
		{To: "+14155551236", Body: "three"},
	}
	results, err := f.gateway.SendBatch(context.Background(), msgs, "primary", dispatch.BatchOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: %d", len(results))
	}

	if got := testutil.ToFloat64(m.SendTotal.WithLabelValues("primary", "sent")); got != 2 {
		t.Fatalf("sent counter: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SendTotal.WithLabelValues("primary", "permanent")); got != 1 {
		t.Fatalf("permanent counter: got %v, want 1", got)
	}
}
