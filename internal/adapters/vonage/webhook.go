package vonage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// WebhookHandler parses Vonage delivery receipts (JSON) and verifies their
// hex-encoded HMAC-SHA256 signatures.
type WebhookHandler struct{}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler() *WebhookHandler { return &WebhookHandler{} }

type deliveryReceipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	ErrorCode string `json:"err-code"`
	Timestamp string `json:"message-timestamp"`
}

// ParseDeliveryReport decodes a delivery receipt into a canonical report.
func (h *WebhookHandler) ParseDeliveryReport(raw []byte) (string, *models.DeliveryReport, error) {
	var dlr deliveryReceipt
	if err := json.Unmarshal(raw, &dlr); err != nil {
		return "", nil, fmt.Errorf("vonage webhook: parse body: %w", err)
	}
	if dlr.MessageID == "" {
		return "", nil, errors.New("vonage webhook: messageId is missing")
	}

	report := &models.DeliveryReport{Attempts: 1}
	switch strings.ToLower(dlr.Status) {
	case "delivered":
		report.Status = models.DeliveryStatusDelivered
		if ts, err := time.Parse("2006-01-02 15:04:05", dlr.Timestamp); err == nil {
			report.DeliveredAt = &ts
		}
	case "accepted", "buffered":
		report.Status = models.DeliveryStatusPending
	case "submitted":
		report.Status = models.DeliveryStatusSent
	case "expired", "failed", "rejected", "unknown":
		report.Status = models.DeliveryStatusFailed
		report.ErrorReason = fmt.Sprintf("vonage status %s (err-code %s)", dlr.Status, dlr.ErrorCode)
	default:
		report.Status = models.DeliveryStatusPending
	}
	return dlr.MessageID, report, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body with a
// constant-time comparison.
func (h *WebhookHandler) VerifySignature(signature string, raw []byte, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(expected, mac.Sum(nil))
}
