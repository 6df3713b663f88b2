package messagebird

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// WebhookHandler parses MessageBird status callbacks (query-string encoded)
// and verifies their base64 HMAC-SHA256 signatures.
type WebhookHandler struct{}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler() *WebhookHandler { return &WebhookHandler{} }

// ParseDeliveryReport decodes a status callback into a canonical report.
func (h *WebhookHandler) ParseDeliveryReport(raw []byte) (string, *models.DeliveryReport, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return "", nil, fmt.Errorf("messagebird webhook: parse body: %w", err)
	}
	id := values.Get("id")
	if id == "" {
		return "", nil, errors.New("messagebird webhook: id is missing")
	}

	status := MapStatus(values.Get("status"))
	report := &models.DeliveryReport{Status: status, Attempts: 1}
	if status == models.DeliveryStatusDelivered {
		if ts, err := time.Parse(time.RFC3339, values.Get("statusDatetime")); err == nil {
			report.DeliveredAt = &ts
		}
	}
	if status == models.DeliveryStatusFailed {
		report.ErrorReason = "messagebird status " + values.Get("status")
	}
	if status == models.DeliveryStatusUnknown {
		report.Status = models.DeliveryStatusPending
	}
	return id, report, nil
}

// VerifySignature checks the base64 HMAC-SHA256 of the raw body with a
// constant-time comparison.
func (h *WebhookHandler) VerifySignature(signature string, raw []byte, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(expected, mac.Sum(nil))
}
