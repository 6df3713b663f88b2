package vonage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

type fakeHTTPClient struct {
	lastRequest *http.Request
	lastBody    string
	status      int
	response    string
	err         error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.lastRequest = req
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		f.lastBody = string(raw)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.response)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestAdapter(t *testing.T, client *fakeHTTPClient) *Adapter {
	t.Helper()
	adapter, err := New(models.ProviderConfig{
		ID: "vonage",
		Settings: map[string]string{
			SettingAPIKey:    "key123",
			SettingAPISecret: "secret",
			SettingFrom:      "Acme",
		},
	}, zerolog.Nop(), WithHTTPClient(client), WithClock(fixedNow))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestSendSuccess(t *testing.T) {
	client := &fakeHTTPClient{
		status:   200,
		response: `{"message-count":"1","messages":[{"status":"0","message-id":"0A0000000123ABCD1","message-price":"0.0333"}]}`,
	}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Success || result.MessageID != "0A0000000123ABCD1" || result.Provider != "vonage" {
		t.Fatalf("result: %+v", result)
	}
	if result.Segments != 1 {
		t.Fatalf("segments: %d", result.Segments)
	}
	if result.Cost != 0.0333 {
		t.Fatalf("cost: %v", result.Cost)
	}

	req := client.lastRequest
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/sms/json") {
		t.Fatalf("request: %s %s", req.Method, req.URL)
	}
	var form sendRequest
	if err := json.Unmarshal([]byte(client.lastBody), &form); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if form.APIKey != "key123" || form.APISecret != "secret" {
		t.Fatalf("credentials: %+v", form)
	}
	if form.To != "14155551234" || form.From != "Acme" || form.Type != "text" {
		t.Fatalf("body: %+v", form)
	}
}

func TestSendUnicodeBodySetsType(t *testing.T) {
	client := &fakeHTTPClient{
		status:   200,
		response: `{"message-count":"1","messages":[{"status":"0","message-id":"0A1"}]}`,
	}
	adapter := newTestAdapter(t, client)

	if _, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "你好"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var form sendRequest
	if err := json.Unmarshal([]byte(client.lastBody), &form); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if form.Type != "unicode" {
		t.Fatalf("type: %q", form.Type)
	}
}

func TestSendStatusClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   string
		wantType models.ErrorType
	}{
		{"throttled", "1", models.ErrorTypeRateLimit},
		{"quota exceeded", "9", models.ErrorTypeRateLimit},
		{"internal error", "5", models.ErrorTypeTemporary},
		{"invalid params", "3", models.ErrorTypeInvalidNumber},
		{"number barred", "7", models.ErrorTypeInvalidNumber},
		{"unsupported network", "15", models.ErrorTypeInvalidNumber},
		{"unmapped code", "29", models.ErrorTypePermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeHTTPClient{
				status:   200,
				response: fmt.Sprintf(`{"message-count":"1","messages":[{"status":%q,"error-text":"rejected"}]}`, tc.status),
			}
			adapter := newTestAdapter(t, client)

			result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
			if err != nil {
				t.Fatalf("send must not error for provider rejection: %v", err)
			}
			if result.Success {
				t.Fatalf("result should be failure: %+v", result)
			}
			if result.ErrorType != tc.wantType {
				t.Fatalf("error type: got %s, want %s", result.ErrorType, tc.wantType)
			}
		})
	}
}

func TestSendHTTPErrorClassified(t *testing.T) {
	client := &fakeHTTPClient{status: 503, response: `unavailable`}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Success || result.ErrorType != models.ErrorTypeTemporary {
		t.Fatalf("result: %+v", result)
	}
}

func TestSendUnparseableResponseIsTemporary(t *testing.T) {
	client := &fakeHTTPClient{status: 200, response: `not json`}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Success || result.ErrorType != models.ErrorTypeTemporary {
		t.Fatalf("result: %+v", result)
	}
}

func TestSendTransportErrorIsTemporary(t *testing.T) {
	client := &fakeHTTPClient{err: errors.New("connection refused")}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("transport errors surface as failed results: %v", err)
	}
	if result.Success || result.ErrorType != models.ErrorTypeTemporary {
		t.Fatalf("result: %+v", result)
	}
}

func TestSendCancelledContext(t *testing.T) {
	client := &fakeHTTPClient{err: context.Canceled}
	adapter := newTestAdapter(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := adapter.Send(ctx, &models.Message{To: "+14155551234", Body: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStatusReportsUnknown(t *testing.T) {
	adapter := newTestAdapter(t, &fakeHTTPClient{})

	status, err := adapter.Status(context.Background(), "0A1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != models.DeliveryStatusUnknown {
		t.Fatalf("status: %s", status)
	}
}

func TestHealthCheck(t *testing.T) {
	client := &fakeHTTPClient{status: 200, response: `{"value":1.5}`}
	adapter := newTestAdapter(t, client)

	status := adapter.HealthCheck(context.Background())
	if !status.Healthy {
		t.Fatalf("health: %+v", status)
	}
	if !strings.HasSuffix(client.lastRequest.URL.Path, "/account/get-balance") {
		t.Fatalf("health url: %s", client.lastRequest.URL)
	}

	client.status = 401
	status = adapter.HealthCheck(context.Background())
	if status.Healthy || status.Error == "" {
		t.Fatalf("health after auth failure: %+v", status)
	}
}

func TestValidateConfig(t *testing.T) {
	adapter := newTestAdapter(t, &fakeHTTPClient{})

	report := adapter.ValidateConfig(models.ProviderConfig{Settings: map[string]string{}})
	if report.Valid || len(report.Errors) != 2 {
		t.Fatalf("empty config report: %+v", report)
	}

	report = adapter.ValidateConfig(models.ProviderConfig{Settings: map[string]string{
		SettingAPIKey:    "key123",
		SettingAPISecret: "secret",
	}})
	if !report.Valid || len(report.Warnings) != 1 {
		t.Fatalf("missing sender report: %+v", report)
	}
}

func TestWebhookRoundTrip(t *testing.T) {
	handler := NewWebhookHandler()
	const secret = "signing-secret"

	raw := []byte(`{"messageId":"0A0000000123ABCD1","status":"failed","err-code":"1","message-timestamp":"2025-03-01 12:00:00"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	signature := hex.EncodeToString(mac.Sum(nil))

	if !handler.VerifySignature(signature, raw, secret) {
		t.Fatal("valid signature rejected")
	}
	if handler.VerifySignature(signature, append(raw, '!'), secret) {
		t.Fatal("tampered payload accepted")
	}

	id, report, err := handler.ParseDeliveryReport(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "0A0000000123ABCD1" || report.Status != models.DeliveryStatusFailed {
		t.Fatalf("report: id=%q %+v", id, report)
	}
	if !strings.Contains(report.ErrorReason, "err-code 1") {
		t.Fatalf("error reason: %q", report.ErrorReason)
	}
}

func TestWebhookDeliveredTimestamp(t *testing.T) {
	handler := NewWebhookHandler()

	id, report, err := handler.ParseDeliveryReport([]byte(`{"messageId":"0A2","status":"delivered","message-timestamp":"2025-03-01 12:30:00"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "0A2" || report.Status != models.DeliveryStatusDelivered {
		t.Fatalf("report: id=%q %+v", id, report)
	}
	want := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	if report.DeliveredAt == nil || !report.DeliveredAt.Equal(want) {
		t.Fatalf("delivered at: %v", report.DeliveredAt)
	}

	if _, _, err := handler.ParseDeliveryReport([]byte(`{"status":"delivered"}`)); err == nil {
		t.Fatal("receipt without messageId accepted")
	}
}
