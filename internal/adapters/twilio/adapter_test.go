package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
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
		ID: "twilio",
		Settings: map[string]string{
			SettingAccountSID: "AC123",
			SettingAuthToken:  "token",
			SettingFrom:       "+15005550006",
		},
	}, zerolog.Nop(), WithHTTPClient(client), WithClock(fixedNow))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestSendSuccess(t *testing.T) {
	client := &fakeHTTPClient{
		status:   201,
		response: `{"sid":"SM123","status":"queued","price":""}`,
	}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Success || result.MessageID != "SM123" || result.Provider != "twilio" {
		t.Fatalf("result: %+v", result)
	}
	if result.Segments != 1 {
		t.Fatalf("segments: %d", result.Segments)
	}
	if result.Cost != 0.0079 {
		t.Fatalf("cost: %v", result.Cost)
	}

	req := client.lastRequest
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/Accounts/AC123/Messages.json") {
		t.Fatalf("request: %s %s", req.Method, req.URL)
	}
	if user, pass, ok := req.BasicAuth(); !ok || user != "AC123" || pass != "token" {
		t.Fatalf("basic auth: %s/%s ok=%v", user, pass, ok)
	}
	form, err := url.ParseQuery(client.lastBody)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Get("To") != "+14155551234" || form.Get("From") != "+15005550006" || form.Get("Body") != "hello" {
		t.Fatalf("form: %v", form)
	}
}

func TestSendReportedPriceWins(t *testing.T) {
	client := &fakeHTTPClient{
		status:   201,
		response: `{"sid":"SM124","status":"queued","price":"-0.0150"}`,
	}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Send(context.Background(), &models.Message{To: "+14155551234", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Cost != 0.0150 {
		t.Fatalf("cost: %v", result.Cost)
	}
}

func TestSendErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		code     int
		wantType models.ErrorType
	}{
		{"invalid number", 400, 21211, models.ErrorTypeInvalidNumber},
		{"concurrency limit", 429, 20429, models.ErrorTypeRateLimit},
		{"blocked recipient", 400, 21610, models.ErrorTypePermanent},
		{"server error", 503, 0, models.ErrorTypeTemporary},
		{"throttled without code", 429, 0, models.ErrorTypeRateLimit},
		{"generic bad request", 400, 0, models.ErrorTypePermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeHTTPClient{
				status:   tc.status,
				response: fmt.Sprintf(`{"code":%d,"message":"rejected"}`, tc.code),
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

func TestStatusMapping(t *testing.T) {
	client := &fakeHTTPClient{
		status:   200,
		response: `{"sid":"SM123","status":"delivered"}`,
	}
	adapter := newTestAdapter(t, client)

	status, err := adapter.Status(context.Background(), "SM123")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != models.DeliveryStatusDelivered {
		t.Fatalf("status: %s", status)
	}
	if !strings.HasSuffix(client.lastRequest.URL.Path, "/Messages/SM123.json") {
		t.Fatalf("status url: %s", client.lastRequest.URL)
	}
}

func TestMapStatusVocabulary(t *testing.T) {
	cases := map[string]models.DeliveryStatus{
		"queued":      models.DeliveryStatusPending,
		"accepted":    models.DeliveryStatusPending,
		"sent":        models.DeliveryStatusSent,
		"Delivered":   models.DeliveryStatusDelivered,
		"undelivered": models.DeliveryStatusFailed,
		"mystery":     models.DeliveryStatusUnknown,
	}
	for input, want := range cases {
		if got := MapStatus(input); got != want {
			t.Fatalf("MapStatus(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	client := &fakeHTTPClient{status: 200, response: `{"sid":"AC123"}`}
	adapter := newTestAdapter(t, client)

	status := adapter.HealthCheck(context.Background())
	if !status.Healthy {
		t.Fatalf("health: %+v", status)
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
		SettingAccountSID: "SK999",
		SettingAuthToken:  "token",
	}})
	if !report.Valid || len(report.Warnings) != 1 {
		t.Fatalf("sid warning report: %+v", report)
	}
}

func TestWebhookRoundTrip(t *testing.T) {
	handler := NewWebhookHandler()
	const secret = "auth-token"

	body := url.Values{
		"MessageSid":    {"SM555"},
		"MessageStatus": {"failed"},
		"ErrorCode":     {"30005"},
	}.Encode()
	raw := []byte(body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

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
	if id != "SM555" || report.Status != models.DeliveryStatusFailed {
		t.Fatalf("report: id=%q %+v", id, report)
	}
	if !strings.Contains(report.ErrorReason, "30005") {
		t.Fatalf("error reason: %q", report.ErrorReason)
	}
}
