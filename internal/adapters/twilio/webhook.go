package twilio

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// WebhookHandler parses Twilio status callbacks (form-encoded) and verifies
// their signatures. Twilio signs the raw callback payload with HMAC-SHA256
// over the auth token; the signature travels base64-encoded.
type WebhookHandler struct {
	now func() time.Time
}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{now: time.Now}
}

// ParseDeliveryReport decodes a status callback body into a canonical
// delivery report keyed by the provider message id.
func (h *WebhookHandler) ParseDeliveryReport(raw []byte) (string, *models.DeliveryReport, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return "", nil, fmt.Errorf("twilio webhook: parse body: %w", err)
	}

	sid := values.Get("MessageSid")
	if sid == "" {
		sid = values.Get("SmsSid")
	}
	if sid == "" {
		return "", nil, errors.New("twilio webhook: MessageSid is missing")
	}

	status := MapStatus(values.Get("MessageStatus"))
	report := &models.DeliveryReport{Status: status, Attempts: 1}

	if status == models.DeliveryStatusDelivered {
		at := h.now()
		report.DeliveredAt = &at
	}
	if code := values.Get("ErrorCode"); code != "" {
		if n, err := strconv.Atoi(code); err == nil && n != 0 {
			report.ErrorReason = fmt.Sprintf("twilio error %d", n)
		}
	}
	if status == models.DeliveryStatusUnknown {
		report.Status = models.DeliveryStatusPending
	}
	return sid, report, nil
}

// VerifySignature checks the base64 HMAC-SHA256 of the raw body against the
// supplied signature using a constant-time comparison.
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
